// Package worker drives analysis jobs through their state machine: it
// consumes analysis ids from the queue, claims each job, runs the
// preprocessing/classification pipeline with retry and backoff, persists the
// outcome and applies the post-processing hook. A periodic reaper recovers
// jobs orphaned by crashed workers.
package worker

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/purepost/analysis-service/internal/detection"
	"github.com/purepost/analysis-service/internal/imaging"
	"github.com/purepost/analysis-service/internal/worker/domain"
	"github.com/purepost/analysis-service/shared/rabbitmq"
)

// Store is the analysis job store. All transitions are conditional updates
// so state can only move forward under the claim discipline.
type Store interface {
	ClaimAnalysis(ctx context.Context, analysisID, taskRef string) (*domain.Analysis, error)
	CompleteAnalysis(ctx context.Context, analysisID string, outcome *domain.Outcome) error
	FailAnalysis(ctx context.Context, analysisID, reason string) error
	IncrementRetry(ctx context.Context, analysisID string) error
	IsProcessing(ctx context.Context, analysisID string) (bool, error)
	FailStale(ctx context.Context, horizon time.Duration) ([]domain.Analysis, error)
}

// ImageSource resolves a post's raw image bytes
type ImageSource interface {
	ResolveImage(ctx context.Context, postID string) ([]byte, error)
}

// Classifier performs a single detection attempt
type Classifier interface {
	Classify(ctx context.Context, imageBytes []byte, tensor *imaging.Tensor) (*detection.RawScores, error)
}

// Hook receives terminal analyses and updates the owning post's visible
// moderation state. Exactly one of its methods is called per terminal
// transition.
type Hook interface {
	OnCompleted(ctx context.Context, postID string, isDeepfake bool, score float64) error
	OnFailed(ctx context.Context, postID, reason string) error
}

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	RabbitClient *rabbitmq.Client
	Store        Store
	Images       ImageSource
	Classifier   Classifier
	Hook         Hook

	Concurrency   int
	PrefetchCount int

	AttemptTimeout time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	FlaggedLabel   string
	CounterLabel   string
	InputSize      int

	ReaperInterval time.Duration
	ReaperHorizon  time.Duration
}

// Worker is the analysis job processor
type Worker struct {
	logger       *slog.Logger
	rabbitClient *rabbitmq.Client
	store        Store
	images       ImageSource
	classifier   Classifier
	hook         Hook

	concurrency   int
	prefetchCount int

	attemptTimeout time.Duration
	maxAttempts    int
	backoffBase    time.Duration
	backoffCap     time.Duration
	flaggedLabel   string
	counterLabel   string
	inputSize      int

	reaperInterval time.Duration
	reaperHorizon  time.Duration

	workerID string
	jobsChan chan *domain.AnalysisMessage

	rngMu sync.Mutex
	rng   *rand.Rand

	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		logger:         cfg.Logger,
		rabbitClient:   cfg.RabbitClient,
		store:          cfg.Store,
		images:         cfg.Images,
		classifier:     cfg.Classifier,
		hook:           cfg.Hook,
		concurrency:    cfg.Concurrency,
		prefetchCount:  cfg.PrefetchCount,
		attemptTimeout: cfg.AttemptTimeout,
		maxAttempts:    cfg.MaxAttempts,
		backoffBase:    cfg.BackoffBase,
		backoffCap:     cfg.BackoffCap,
		flaggedLabel:   cfg.FlaggedLabel,
		counterLabel:   cfg.CounterLabel,
		inputSize:      cfg.InputSize,
		reaperInterval: cfg.ReaperInterval,
		reaperHorizon:  cfg.ReaperHorizon,
		workerID:       "analysis-worker-" + uuid.New().String()[:8],
		jobsChan:       make(chan *domain.AnalysisMessage),
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		stopChan:       make(chan struct{}),
	}
}

// Start begins consuming and processing analyses. Blocks until the context
// is canceled or the delivery channel closes.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("attempt_timeout", w.attemptTimeout),
		slog.Int("max_attempts", w.maxAttempts),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	w.wg.Add(1)
	go w.reaperLoop(ctx)

	w.startMessageDispatcher(ctx, deliveries)
	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker", slog.String("worker_id", w.workerID))
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// newTaskRef builds the opaque in-flight attempt handle recorded on claim
func (w *Worker) newTaskRef() string {
	return w.workerID + "/" + uuid.New().String()
}
