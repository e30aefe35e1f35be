package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purepost/analysis-service/internal/detection"
	"github.com/purepost/analysis-service/internal/imaging"
	"github.com/purepost/analysis-service/internal/worker/domain"
)

// fakeStore is an in-memory Store capturing every transition
type fakeStore struct {
	mu sync.Mutex

	claimErr   error
	processing bool

	claimed        []string
	completed      map[string]*domain.Outcome
	failed         map[string]string
	retries        int
	completeErr    error
	failErr        error
	staleAnalyses  []domain.Analysis
	staleSweepDone bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		processing: true,
		completed:  make(map[string]*domain.Outcome),
		failed:     make(map[string]string),
	}
}

func (s *fakeStore) ClaimAnalysis(_ context.Context, analysisID, taskRef string) (*domain.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	s.claimed = append(s.claimed, analysisID)
	return &domain.Analysis{
		ID:      analysisID,
		PostID:  "post-1",
		Status:  domain.StatusProcessing,
		TaskRef: taskRef,
	}, nil
}

func (s *fakeStore) CompleteAnalysis(_ context.Context, analysisID string, outcome *domain.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return s.completeErr
	}
	s.completed[analysisID] = outcome
	return nil
}

func (s *fakeStore) FailAnalysis(_ context.Context, analysisID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.failed[analysisID] = reason
	return nil
}

func (s *fakeStore) IncrementRetry(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries++
	return nil
}

func (s *fakeStore) IsProcessing(_ context.Context, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing, nil
}

func (s *fakeStore) FailStale(_ context.Context, _ time.Duration) ([]domain.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staleSweepDone = true
	return s.staleAnalyses, nil
}

// fakeImages serves fixed bytes per post
type fakeImages struct {
	data map[string][]byte
	err  error
}

func (f *fakeImages) ResolveImage(_ context.Context, postID string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.data[postID]
	if !ok {
		return nil, errors.New("no such post")
	}
	return data, nil
}

// fakeClassifier counts calls and replays scripted responses
type fakeClassifier struct {
	mu     sync.Mutex
	calls  int
	scores *detection.RawScores
	err    error
}

func (f *fakeClassifier) Classify(_ context.Context, _ []byte, _ *imaging.Tensor) (*detection.RawScores, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeHook records terminal notifications
type fakeHook struct {
	mu        sync.Mutex
	completed []string
	failed    []string
	lastScore float64
	lastFlag  bool
	lastWhy   string
}

func (f *fakeHook) OnCompleted(_ context.Context, postID string, isDeepfake bool, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, postID)
	f.lastFlag = isDeepfake
	f.lastScore = score
	return nil
}

func (f *fakeHook) OnFailed(_ context.Context, postID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, postID)
	f.lastWhy = reason
	return nil
}

func testImageBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.RGBA{R: 128, G: 64, B: 32, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestWorker(store Store, images ImageSource, classifier Classifier, hook Hook) *Worker {
	return NewWorker(&Config{
		Logger:         slog.New(slog.DiscardHandler),
		Store:          store,
		Images:         images,
		Classifier:     classifier,
		Hook:           hook,
		Concurrency:    1,
		AttemptTimeout: time.Second,
		MaxAttempts:    3,
		BackoffBase:    time.Millisecond,
		BackoffCap:     4 * time.Millisecond,
		FlaggedLabel:   "deepfake",
		CounterLabel:   "real",
		InputSize:      32,
		ReaperInterval: time.Minute,
		ReaperHorizon:  time.Hour,
	})
}

func TestProcessAnalysis_Success(t *testing.T) {
	store := newFakeStore()
	classifier := &fakeClassifier{
		scores: &detection.RawScores{
			Labels:         []string{"real", "deepfake"},
			Scores:         []float64{0.9, 0.1},
			ProcessingTime: 0.042,
			Raw:            json.RawMessage(`{"success":true}`),
		},
	}
	hook := &fakeHook{}
	images := &fakeImages{data: map[string][]byte{"post-1": testImageBytes(t)}}

	w := newTestWorker(store, images, classifier, hook)

	err := w.processAnalysis(context.Background(), &domain.AnalysisMessage{AnalysisID: "a-1"})
	require.NoError(t, err)

	require.Contains(t, store.completed, "a-1")
	outcome := store.completed["a-1"]
	assert.False(t, outcome.IsDeepfake)
	assert.Equal(t, 0.1, outcome.DeepfakeScore)
	assert.Equal(t, 0.9, outcome.RealScore)
	assert.Equal(t, 0.042, outcome.ModelLatencySeconds)
	assert.JSONEq(t, `{"success":true}`, string(outcome.RawResult))

	assert.Equal(t, 1, classifier.callCount())
	assert.Equal(t, []string{"post-1"}, hook.completed)
	assert.False(t, hook.lastFlag)
	assert.Equal(t, 0.1, hook.lastScore)
	assert.Empty(t, store.failed)
}

func TestProcessAnalysis_FlaggedResult(t *testing.T) {
	store := newFakeStore()
	classifier := &fakeClassifier{
		scores: &detection.RawScores{
			Labels: []string{"real", "deepfake"},
			Scores: []float64{0.07, 0.93},
		},
	}
	hook := &fakeHook{}
	images := &fakeImages{data: map[string][]byte{"post-1": testImageBytes(t)}}

	w := newTestWorker(store, images, classifier, hook)

	require.NoError(t, w.processAnalysis(context.Background(), &domain.AnalysisMessage{AnalysisID: "a-2"}))

	outcome := store.completed["a-2"]
	require.NotNil(t, outcome)
	assert.True(t, outcome.IsDeepfake)
	assert.Equal(t, 0.93, outcome.DeepfakeScore)
	assert.True(t, hook.lastFlag)
}

func TestProcessAnalysis_ClaimRace(t *testing.T) {
	store := newFakeStore()
	store.claimErr = domain.ErrAlreadyClaimed
	classifier := &fakeClassifier{}
	hook := &fakeHook{}

	w := newTestWorker(store, &fakeImages{}, classifier, hook)

	// A lost claim race is a resolved no-op, not an error.
	err := w.processAnalysis(context.Background(), &domain.AnalysisMessage{AnalysisID: "a-3"})
	require.NoError(t, err)

	assert.Zero(t, classifier.callCount(), "a lost race must not reach the backend")
	assert.Empty(t, store.completed)
	assert.Empty(t, store.failed)
	assert.Empty(t, hook.failed)
}

func TestProcessAnalysis_ClaimInfraError(t *testing.T) {
	store := newFakeStore()
	store.claimErr = errors.New("connection reset")

	w := newTestWorker(store, &fakeImages{}, &fakeClassifier{}, &fakeHook{})

	err := w.processAnalysis(context.Background(), &domain.AnalysisMessage{AnalysisID: "a-4"})
	require.Error(t, err)

	var retryable *domain.RetryableError
	assert.ErrorAs(t, err, &retryable, "an infra error should requeue the delivery")
}

func TestProcessAnalysis_SourceUnavailable(t *testing.T) {
	store := newFakeStore()
	classifier := &fakeClassifier{}
	hook := &fakeHook{}
	images := &fakeImages{err: errors.New("file vanished")}

	w := newTestWorker(store, images, classifier, hook)

	require.NoError(t, w.processAnalysis(context.Background(), &domain.AnalysisMessage{AnalysisID: "a-5"}))

	require.Contains(t, store.failed, "a-5")
	assert.Contains(t, store.failed["a-5"], domain.ReasonSourceUnavailable)
	assert.Zero(t, classifier.callCount(), "missing sources are not retried")
	assert.Equal(t, []string{"post-1"}, hook.failed)
}

func TestProcessAnalysis_UndecodableImage(t *testing.T) {
	store := newFakeStore()
	classifier := &fakeClassifier{}
	hook := &fakeHook{}
	images := &fakeImages{data: map[string][]byte{"post-1": []byte("not an image")}}

	w := newTestWorker(store, images, classifier, hook)

	require.NoError(t, w.processAnalysis(context.Background(), &domain.AnalysisMessage{AnalysisID: "a-6"}))

	require.Contains(t, store.failed, "a-6")
	assert.Contains(t, store.failed["a-6"], "decode")
	assert.Zero(t, classifier.callCount(), "undecodable images are not retried")
	assert.Zero(t, store.retries)
	assert.Equal(t, []string{"post-1"}, hook.failed)
}

func TestProcessAnalysis_RetryExhaustion(t *testing.T) {
	store := newFakeStore()
	classifier := &fakeClassifier{err: detection.ErrTimeout}
	hook := &fakeHook{}
	images := &fakeImages{data: map[string][]byte{"post-1": testImageBytes(t)}}

	w := newTestWorker(store, images, classifier, hook)

	require.NoError(t, w.processAnalysis(context.Background(), &domain.AnalysisMessage{AnalysisID: "a-7"}))

	assert.Equal(t, 3, classifier.callCount(), "exactly max_attempts backend calls")
	assert.Equal(t, 2, store.retries)

	require.Contains(t, store.failed, "a-7")
	assert.Contains(t, store.failed["a-7"], "timed out")
	assert.Equal(t, []string{"post-1"}, hook.failed)
	assert.Empty(t, store.completed)
}

func TestProcessAnalysis_CancelledBetweenAttempts(t *testing.T) {
	store := newFakeStore()
	store.processing = false // cancelled while the first attempt was in flight
	classifier := &fakeClassifier{err: detection.ErrUnreachable}
	hook := &fakeHook{}
	images := &fakeImages{data: map[string][]byte{"post-1": testImageBytes(t)}}

	w := newTestWorker(store, images, classifier, hook)

	require.NoError(t, w.processAnalysis(context.Background(), &domain.AnalysisMessage{AnalysisID: "a-8"}))

	assert.Equal(t, 1, classifier.callCount(), "no re-attempt after cancellation")
	assert.Empty(t, store.completed)
	assert.Empty(t, store.failed, "the canceller already wrote FAILED")
	assert.Empty(t, hook.failed, "the canceller already ran the hook")
}

func TestProcessAnalysis_LateResultDiscarded(t *testing.T) {
	store := newFakeStore()
	store.completeErr = domain.ErrNotProcessing
	classifier := &fakeClassifier{
		scores: &detection.RawScores{
			Labels: []string{"real", "deepfake"},
			Scores: []float64{0.2, 0.8},
		},
	}
	hook := &fakeHook{}
	images := &fakeImages{data: map[string][]byte{"post-1": testImageBytes(t)}}

	w := newTestWorker(store, images, classifier, hook)

	require.NoError(t, w.processAnalysis(context.Background(), &domain.AnalysisMessage{AnalysisID: "a-9"}))

	assert.Empty(t, hook.completed, "a discarded result must not run the completion hook")
	assert.Empty(t, store.failed)
}

func TestReapStale(t *testing.T) {
	store := newFakeStore()
	store.staleAnalyses = []domain.Analysis{
		{ID: "s-1", PostID: "post-9", Status: domain.StatusFailed},
		{ID: "s-2", PostID: "", Status: domain.StatusFailed}, // post deleted
	}
	hook := &fakeHook{}

	w := newTestWorker(store, &fakeImages{}, &fakeClassifier{}, hook)
	w.reapStale(context.Background())

	assert.True(t, store.staleSweepDone)
	assert.Equal(t, []string{"post-9"}, hook.failed)
	assert.Equal(t, domain.ReasonTimedOut, hook.lastWhy)
}
