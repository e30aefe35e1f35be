package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/purepost/analysis-service/internal/detection"
	"github.com/purepost/analysis-service/internal/imaging"
	"github.com/purepost/analysis-service/internal/worker/domain"
)

// errAttemptSuperseded signals that the job left PROCESSING while the
// attempt was in flight (cancellation or reaping); the attempt's result is
// discarded and the delivery acknowledged.
var errAttemptSuperseded = errors.New("analysis no longer processing")

// processAnalysis drives one analysis through the state machine:
// claim, resolve image, normalize, classify with retry/backoff, persist,
// post-process. All failure paths end in either a terminal FAILED row or a
// requeue; nothing escapes silently.
func (w *Worker) processAnalysis(ctx context.Context, msg *domain.AnalysisMessage) error {
	analysis, err := w.store.ClaimAnalysis(ctx, msg.AnalysisID, w.newTaskRef())
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) {
			// Another worker won the race or the job is already terminal.
			// Not an error: acknowledge and move on.
			w.logger.Warn("Analysis not claimable, skipping",
				slog.String("analysis_id", msg.AnalysisID),
			)
			return nil
		}
		return domain.NewRetryableError(fmt.Errorf("failed to claim analysis: %w", err))
	}

	logger := w.logger.With(
		slog.String("analysis_id", analysis.ID),
		slog.String("post_id", analysis.PostID),
	)
	logger.Info("Processing analysis")

	// A missing source will not appear on retry: fail permanently.
	imageBytes, err := w.images.ResolveImage(ctx, analysis.PostID)
	if err != nil {
		logger.Error("Failed to resolve source image", slog.Any("error", err))
		return w.failTerminal(ctx, analysis, fmt.Sprintf("%s: %v", domain.ReasonSourceUnavailable, err))
	}

	// Same for corrupt input: the bytes will not get less corrupt.
	tensor, err := imaging.Normalize(imageBytes, w.inputSize)
	if err != nil {
		logger.Error("Failed to normalize image", slog.Any("error", err))
		return w.failTerminal(ctx, analysis, err.Error())
	}

	outcome, err := w.classifyWithRetry(ctx, logger, analysis, imageBytes, tensor)
	if err != nil {
		if errors.Is(err, errAttemptSuperseded) {
			logger.Info("Analysis superseded during retries, discarding attempt")
			return nil
		}
		if ctx.Err() != nil {
			// Shutting down mid-job; requeue so the claim race plus the
			// reaper sort out ownership.
			return domain.NewRetryableError(err)
		}
		// Retry budget exhausted: the last transient error becomes the
		// terminal failure reason, verbatim.
		logger.Warn("Analysis exhausted retry budget", slog.String("error", err.Error()))
		return w.failTerminal(ctx, analysis, err.Error())
	}

	if err := w.store.CompleteAnalysis(ctx, analysis.ID, outcome); err != nil {
		if errors.Is(err, domain.ErrNotProcessing) {
			logger.Info("Analysis was cancelled, discarding late result")
			return nil
		}
		return domain.NewRetryableError(fmt.Errorf("failed to persist result: %w", err))
	}

	logger.Info("Analysis completed",
		slog.Bool("is_deepfake", outcome.IsDeepfake),
		slog.Float64("deepfake_score", outcome.DeepfakeScore),
	)

	if analysis.PostID != "" {
		if err := w.hook.OnCompleted(ctx, analysis.PostID, outcome.IsDeepfake, outcome.DeepfakeScore); err != nil {
			logger.Error("Post-processing hook failed", slog.Any("error", err))
		}
	}

	return nil
}

// classifyWithRetry runs up to maxAttempts detection calls, each under the
// per-attempt timeout, with exponential backoff plus jitter between
// attempts. Cancellation is checked before every re-attempt so a cancelled
// job stops burning backend calls.
func (w *Worker) classifyWithRetry(ctx context.Context, logger *slog.Logger, analysis *domain.Analysis, imageBytes []byte, tensor *imaging.Tensor) (*domain.Outcome, error) {
	var lastErr error

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := w.store.IncrementRetry(ctx, analysis.ID); err != nil {
				logger.Warn("Failed to record retry", slog.Any("error", err))
			}

			delay := w.nextBackoff(attempt - 1)
			logger.Info("Backing off before retry",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", w.maxAttempts),
				slog.Duration("delay", delay),
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-w.stopChan:
				return nil, fmt.Errorf("worker stopping: %w", context.Canceled)
			case <-time.After(delay):
			}

			processing, err := w.store.IsProcessing(ctx, analysis.ID)
			if err != nil {
				logger.Warn("Failed to check analysis status", slog.Any("error", err))
			} else if !processing {
				return nil, errAttemptSuperseded
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, w.attemptTimeout)
		raw, err := w.classifier.Classify(callCtx, imageBytes, tensor)
		cancel()

		if err == nil {
			// The HTTP backend delivers calibrated probabilities.
			result := detection.Interpret(raw.Scores, raw.Labels, w.flaggedLabel, w.counterLabel, true)
			return &domain.Outcome{
				IsDeepfake:          result.IsFlagged,
				DeepfakeScore:       result.FlaggedScore,
				RealScore:           result.CounterScore,
				ModelLatencySeconds: raw.ProcessingTime,
				RawResult:           raw.Raw,
			}, nil
		}

		lastErr = err
		logger.Warn("Detection attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", w.maxAttempts),
			slog.String("error", err.Error()),
		)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// failTerminal writes the FAILED state and runs the failure hook. A
// conditional-update miss means cancellation or the reaper got there first,
// in which case the hook already ran elsewhere.
func (w *Worker) failTerminal(ctx context.Context, analysis *domain.Analysis, reason string) error {
	if err := w.store.FailAnalysis(ctx, analysis.ID, reason); err != nil {
		if errors.Is(err, domain.ErrNotProcessing) {
			return nil
		}
		return domain.NewRetryableError(fmt.Errorf("failed to record failure: %w", err))
	}

	if analysis.PostID != "" {
		if err := w.hook.OnFailed(ctx, analysis.PostID, reason); err != nil {
			w.logger.Error("Failure hook failed",
				slog.String("analysis_id", analysis.ID),
				slog.Any("error", err),
			)
		}
	}

	return nil
}
