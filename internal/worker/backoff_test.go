package worker

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay_Bounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	tests := []struct {
		name  string
		base  time.Duration
		cap   time.Duration
		retry int
		want  time.Duration // full (un-jittered) delay
	}{
		{"first retry", 2 * time.Second, 10 * time.Minute, 1, 2 * time.Second},
		{"second retry doubles", 2 * time.Second, 10 * time.Minute, 2, 4 * time.Second},
		{"third retry doubles again", 2 * time.Second, 10 * time.Minute, 3, 8 * time.Second},
		{"cap reached", 2 * time.Second, 16 * time.Second, 10, 16 * time.Second},
		{"cap below base", 2 * time.Second, time.Second, 1, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Equal jitter keeps the delay within [want/2, want].
			for i := 0; i < 200; i++ {
				got := backoffDelay(tt.base, tt.cap, tt.retry, rng)
				assert.GreaterOrEqual(t, got, tt.want/2)
				assert.LessOrEqual(t, got, tt.want)
			}
		})
	}
}

func TestBackoffDelay_ZeroInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	// Zero base and zero retry still produce a usable positive delay.
	got := backoffDelay(0, 0, 0, rng)
	assert.Greater(t, got, time.Duration(0))
	assert.LessOrEqual(t, got, time.Second)
}

func TestBackoffDelay_Spread(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	seen := make(map[time.Duration]bool)
	for i := 0; i < 50; i++ {
		seen[backoffDelay(10*time.Second, time.Minute, 3, rng)] = true
	}
	assert.Greater(t, len(seen), 10, "jitter should spread delays, not repeat one value")
}
