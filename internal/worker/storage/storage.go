package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/purepost/analysis-service/internal/worker/domain"
)

// Storage handles all database operations for the worker. Every state
// transition is a single conditional UPDATE so that concurrent workers,
// the API and the reaper can never double-apply a transition.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{db: db, logger: logger}
}

// ClaimAnalysis atomically moves an analysis from PENDING to PROCESSING and
// records the in-flight attempt handle. Returns ErrAlreadyClaimed when the
// row is missing or not PENDING.
func (s *Storage) ClaimAnalysis(ctx context.Context, analysisID, taskRef string) (*domain.Analysis, error) {
	query := `
		UPDATE image_analyses
		SET status = $1,
		    task_ref = $2,
		    updated_at = NOW()
		WHERE id = $3
		  AND status = $4
		RETURNING id, COALESCE(post_id::text, ''), retry_count, created_at, updated_at
	`

	var analysis domain.Analysis
	err := s.db.QueryRowContext(ctx, query,
		domain.StatusProcessing, taskRef, analysisID, domain.StatusPending,
	).Scan(
		&analysis.ID,
		&analysis.PostID,
		&analysis.RetryCount,
		&analysis.CreatedAt,
		&analysis.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim analysis - already claimed or not found",
				slog.String("analysis_id", analysisID),
			)
			return nil, domain.ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim analysis: %w", err)
	}

	analysis.Status = domain.StatusProcessing
	analysis.TaskRef = taskRef

	s.logger.Info("Analysis claimed",
		slog.String("analysis_id", analysisID),
		slog.String("task_ref", taskRef),
	)

	return &analysis, nil
}

// CompleteAnalysis persists a successful classification. The status guard
// means a late result from a cancelled or reaped attempt is discarded:
// callers get ErrNotProcessing and must not invoke the completion hook.
func (s *Storage) CompleteAnalysis(ctx context.Context, analysisID string, outcome *domain.Outcome) error {
	query := `
		UPDATE image_analyses
		SET status = $1,
		    is_deepfake = $2,
		    deepfake_score = $3,
		    real_score = $4,
		    model_latency_seconds = $5,
		    raw_result = $6,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $7
		  AND status = $8
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.StatusCompleted,
		outcome.IsDeepfake,
		outcome.DeepfakeScore,
		outcome.RealScore,
		outcome.ModelLatencySeconds,
		outcome.RawResult,
		analysisID,
		domain.StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to complete analysis: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotProcessing
	}

	s.logger.Info("Analysis completed",
		slog.String("analysis_id", analysisID),
		slog.Bool("is_deepfake", outcome.IsDeepfake),
		slog.Float64("deepfake_score", outcome.DeepfakeScore),
	)

	return nil
}

// FailAnalysis moves a PROCESSING analysis to FAILED with the given reason.
// Same status guard and discard semantics as CompleteAnalysis.
func (s *Storage) FailAnalysis(ctx context.Context, analysisID, reason string) error {
	query := `
		UPDATE image_analyses
		SET status = $1,
		    failure_reason = $2,
		    updated_at = NOW()
		WHERE id = $3
		  AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.StatusFailed, reason, analysisID, domain.StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to fail analysis: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotProcessing
	}

	s.logger.Warn("Analysis failed",
		slog.String("analysis_id", analysisID),
		slog.String("reason", reason),
	)

	return nil
}

// IncrementRetry bumps the attempt counter and refreshes updated_at so a
// long backoff does not look stale to the reaper.
func (s *Storage) IncrementRetry(ctx context.Context, analysisID string) error {
	query := `
		UPDATE image_analyses
		SET retry_count = retry_count + 1,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	_, err := s.db.ExecContext(ctx, query, analysisID, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to increment retry count: %w", err)
	}

	return nil
}

// IsProcessing reports whether the analysis still holds PROCESSING status.
// The worker checks this between retry attempts to honor cancellation.
func (s *Storage) IsProcessing(ctx context.Context, analysisID string) (bool, error) {
	var status string
	err := s.db.GetContext(ctx, &status, `SELECT status FROM image_analyses WHERE id = $1`, analysisID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, domain.ErrAnalysisNotFound
		}
		return false, fmt.Errorf("failed to read analysis status: %w", err)
	}

	return status == domain.StatusProcessing, nil
}

// FailStale fails every PROCESSING analysis whose updated_at is older than
// the horizon and returns the affected rows so the reaper can run the
// post-processing hook for each.
func (s *Storage) FailStale(ctx context.Context, horizon time.Duration) ([]domain.Analysis, error) {
	query := `
		UPDATE image_analyses
		SET status = $1,
		    failure_reason = $2,
		    updated_at = NOW()
		WHERE status = $3
		  AND updated_at < NOW() - ($4 * INTERVAL '1 second')
		RETURNING id, COALESCE(post_id::text, '')
	`

	rows, err := s.db.QueryContext(ctx, query,
		domain.StatusFailed,
		domain.ReasonTimedOut,
		domain.StatusProcessing,
		int64(horizon.Seconds()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fail stale analyses: %w", err)
	}
	defer rows.Close()

	var stale []domain.Analysis
	for rows.Next() {
		var a domain.Analysis
		if err := rows.Scan(&a.ID, &a.PostID); err != nil {
			return nil, fmt.Errorf("failed to scan stale analysis: %w", err)
		}
		a.Status = domain.StatusFailed
		stale = append(stale, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stale analyses: %w", err)
	}

	return stale, nil
}
