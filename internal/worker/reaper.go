package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/purepost/analysis-service/internal/worker/domain"
)

// reaperLoop periodically fails analyses stuck in PROCESSING past the
// horizon. These are jobs whose worker died mid-call; without the sweep
// they would stay "analyzing" forever. Runs independently of queue traffic.
func (w *Worker) reaperLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.reaperInterval)
	defer ticker.Stop()

	w.logger.Info("Stale analysis reaper started",
		slog.Duration("interval", w.reaperInterval),
		slog.Duration("horizon", w.reaperHorizon),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Reaper stopped - context canceled")
			return
		case <-w.stopChan:
			w.logger.Info("Reaper stopped - stop requested")
			return
		case <-ticker.C:
			w.reapStale(ctx)
		}
	}
}

// reapStale runs one sweep
func (w *Worker) reapStale(ctx context.Context) {
	stale, err := w.store.FailStale(ctx, w.reaperHorizon)
	if err != nil {
		w.logger.Error("Stale sweep failed", slog.Any("error", err))
		return
	}

	if len(stale) == 0 {
		return
	}

	w.logger.Warn("Reaped stale analyses", slog.Int("count", len(stale)))

	for _, analysis := range stale {
		if analysis.PostID == "" {
			continue
		}
		if err := w.hook.OnFailed(ctx, analysis.PostID, domain.ReasonTimedOut); err != nil {
			w.logger.Error("Failure hook failed for reaped analysis",
				slog.String("analysis_id", analysis.ID),
				slog.Any("error", err),
			)
		}
	}
}
