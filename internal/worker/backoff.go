package worker

import (
	"math/rand"
	"time"
)

// backoffDelay computes the delay before the given retry (1-based count of
// failures so far): base doubled per retry, capped, with equal jitter so
// concurrent workers retrying the same backend outage spread out. The
// result always lands in [d/2, d] where d is the capped exponential delay.
func backoffDelay(base, cap time.Duration, retry int, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if retry < 1 {
		retry = 1
	}

	d := base
	for i := 1; i < retry; i++ {
		d *= 2
		if cap > 0 && d >= cap {
			d = cap
			break
		}
	}
	if cap > 0 && d > cap {
		d = cap
	}

	half := d / 2
	return half + time.Duration(rng.Int63n(int64(half)+1))
}

// nextBackoff is the worker's jitter-locked wrapper around backoffDelay
func (w *Worker) nextBackoff(retry int) time.Duration {
	w.rngMu.Lock()
	defer w.rngMu.Unlock()
	return backoffDelay(w.backoffBase, w.backoffCap, retry, w.rng)
}
