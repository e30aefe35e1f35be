package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/purepost/analysis-service/internal/api/domain"
	"github.com/purepost/analysis-service/internal/api/model"
	"github.com/purepost/analysis-service/shared/postgresql"
)

const analysisColumns = `
	id, post_id, status, is_deepfake, deepfake_score, real_score,
	model_latency_seconds, raw_result, failure_reason, task_ref,
	retry_count, created_at, updated_at, completed_at
`

// uniqueViolation is the Postgres error code raised by the partial unique
// index that allows at most one active analysis per post.
const uniqueViolation = "23505"

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// CreateAnalysis inserts a new PENDING analysis row. The partial unique
// index on (post_id) WHERE status IN (PENDING, PROCESSING) turns a concurrent
// double-submit into ErrActiveAnalysis instead of a second queued job.
func (s *Storage) CreateAnalysis(ctx context.Context, analysis *model.Analysis) error {
	query := `
		INSERT INTO image_analyses (
			id, post_id, status, retry_count, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		analysis.ID,
		analysis.PostID,
		analysis.Status,
		analysis.RetryCount,
		analysis.CreatedAt,
		analysis.UpdatedAt,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrActiveAnalysis
		}
		return fmt.Errorf("failed to create analysis: %w", err)
	}

	return nil
}

// GetLatestByPostID returns the most recent analysis for a post
func (s *Storage) GetLatestByPostID(ctx context.Context, postID string) (*model.Analysis, error) {
	var analysis model.Analysis
	query := `
		SELECT ` + analysisColumns + `
		FROM image_analyses
		WHERE post_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	err := s.db.GetContext(ctx, &analysis, query, postID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAnalysisNotFound
		}
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	return &analysis, nil
}

// Cancel flips an active analysis to FAILED with the cancellation reason.
// The status guard makes cancellation race-safe against the worker's own
// terminal writes: whoever updates first wins, the other sees zero rows.
func (s *Storage) Cancel(ctx context.Context, analysisID, reason string) error {
	query := `
		UPDATE image_analyses
		SET status = $1,
		    failure_reason = $2,
		    updated_at = NOW()
		WHERE id = $3
		  AND status IN ($4, $5)
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.AnalysisStatusFailed,
		reason,
		analysisID,
		domain.AnalysisStatusPending,
		domain.AnalysisStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel analysis: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotCancellable
	}

	return nil
}

// ResetForRetry moves a FAILED analysis back to PENDING, clearing the old
// failure so the record reads like a fresh submission.
func (s *Storage) ResetForRetry(ctx context.Context, analysisID string) error {
	query := `
		UPDATE image_analyses
		SET status = $1,
		    failure_reason = NULL,
		    task_ref = NULL,
		    retry_count = 0,
		    updated_at = NOW()
		WHERE id = $2
		  AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.AnalysisStatusPending,
		analysisID,
		domain.AnalysisStatusFailed,
	)
	if err != nil {
		return fmt.Errorf("failed to reset analysis: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotRetryable
	}

	return nil
}

type AnalysisFilter struct {
	// UserID scopes results to posts owned by this user; empty means no
	// owner scoping (admin listing).
	UserID   string
	Status   string
	PageSize int
	Cursor   *AnalysisCursor
}

type AnalysisCursor struct {
	CreatedAt  time.Time
	AnalysisID string
}

// ListAnalyses pages through analyses newest-first using a keyset cursor on
// (created_at, id). Fetches one row past the page size so the caller can
// tell whether a next page exists.
func (s *Storage) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.Analysis, error) {
	query := `
		SELECT a.id, a.post_id, a.status, a.is_deepfake, a.deepfake_score,
		       a.real_score, a.model_latency_seconds, a.raw_result,
		       a.failure_reason, a.task_ref, a.retry_count,
		       a.created_at, a.updated_at, a.completed_at
		FROM image_analyses a
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND a.post_id IN (SELECT id FROM posts WHERE user_id = $%d)", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND a.status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (a.created_at, a.id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.AnalysisID)
		argIdx += 2
	}

	query += " ORDER BY a.created_at DESC, a.id DESC"

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var analyses []model.Analysis
	err := s.db.SelectContext(ctx, &analyses, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}

	return analyses, nil
}

// Statistics aggregates analysis counts and scores, optionally scoped to one
// user's posts.
func (s *Storage) Statistics(ctx context.Context, userID string) (*model.Statistics, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE a.status = 'PENDING') AS pending,
			COUNT(*) FILTER (WHERE a.status = 'PROCESSING') AS processing,
			COUNT(*) FILTER (WHERE a.status = 'COMPLETED') AS completed,
			COUNT(*) FILTER (WHERE a.status = 'FAILED') AS failed,
			COUNT(*) FILTER (WHERE a.status = 'COMPLETED' AND a.is_deepfake) AS deepfakes_detected,
			AVG(a.deepfake_score) FILTER (WHERE a.status = 'COMPLETED') AS average_score
		FROM image_analyses a
	`
	args := []interface{}{}

	if userID != "" {
		query += " WHERE a.post_id IN (SELECT id FROM posts WHERE user_id = $1)"
		args = append(args, userID)
	}

	var stats model.Statistics
	if err := s.db.GetContext(ctx, &stats, query, args...); err != nil {
		return nil, fmt.Errorf("failed to aggregate statistics: %w", err)
	}

	return &stats, nil
}
