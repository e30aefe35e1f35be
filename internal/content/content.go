// Package content is the pipeline's surface onto the post service: it
// resolves a post's source image and applies the visible moderation status
// once an analysis reaches a terminal state. The rest of the post service
// (CRUD, feeds, reporting) lives elsewhere.
package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
)

// Visible deepfake moderation states on a post
const (
	StatusNotAnalyzed    = "not_analyzed"
	StatusAnalyzing      = "analyzing"
	StatusFlagged        = "flagged"
	StatusNotFlagged     = "not_flagged"
	StatusAnalysisFailed = "analysis_failed"
)

var (
	// ErrPostNotFound is returned when the post does not exist
	ErrPostNotFound = errors.New("post not found")

	// ErrImageUnavailable is returned when the post has no readable image
	ErrImageUnavailable = errors.New("post image unavailable")
)

// Post is the minimal post shape the analysis pipeline needs
type Post struct {
	ID             string          `db:"id"`
	UserID         string          `db:"user_id"`
	Caption        string          `db:"caption"`
	ImagePath      string          `db:"image_path"`
	DeepfakeStatus string          `db:"deepfake_status"`
	DeepfakeScore  sql.NullFloat64 `db:"deepfake_score"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

// Storage reads posts and writes their moderation fields
type Storage struct {
	db        *sqlx.DB
	mediaRoot string
	logger    *slog.Logger
}

// NewStorage creates a post storage rooted at the media directory that
// holds uploaded images.
func NewStorage(db *sqlx.DB, mediaRoot string, logger *slog.Logger) *Storage {
	return &Storage{db: db, mediaRoot: mediaRoot, logger: logger}
}

// GetPost fetches a post by id
func (s *Storage) GetPost(ctx context.Context, postID string) (*Post, error) {
	var post Post
	query := `
		SELECT id, user_id, caption, image_path, deepfake_status, deepfake_score, created_at, updated_at
		FROM posts
		WHERE id = $1
	`

	if err := s.db.GetContext(ctx, &post, query, postID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPostNotFound
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}

	return &post, nil
}

// ResolveImage returns the raw image bytes for a post. A missing post,
// empty path or unreadable file all map to ErrImageUnavailable - these are
// permanent conditions that will not heal on retry.
func (s *Storage) ResolveImage(ctx context.Context, postID string) ([]byte, error) {
	if postID == "" {
		return nil, fmt.Errorf("%w: analysis has no post", ErrImageUnavailable)
	}

	var imagePath string
	err := s.db.GetContext(ctx, &imagePath, `SELECT image_path FROM posts WHERE id = $1`, postID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: post %s not found", ErrImageUnavailable, postID)
		}
		return nil, fmt.Errorf("failed to resolve image path: %w", err)
	}

	if imagePath == "" {
		return nil, fmt.Errorf("%w: post %s has no image", ErrImageUnavailable, postID)
	}

	data, err := os.ReadFile(filepath.Join(s.mediaRoot, filepath.Clean(imagePath)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageUnavailable, err)
	}

	return data, nil
}

// SetModerationStatus updates the post's visible deepfake fields. Updating
// a deleted post is a no-op, not an error: the analysis record outlives its
// post.
func (s *Storage) SetModerationStatus(ctx context.Context, postID, status string, score *float64) error {
	query := `
		UPDATE posts
		SET deepfake_status = $1,
		    deepfake_score = COALESCE($2, deepfake_score),
		    updated_at = NOW()
		WHERE id = $3
	`

	result, err := s.db.ExecContext(ctx, query, status, score, postID)
	if err != nil {
		return fmt.Errorf("failed to update post moderation status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		s.logger.Warn("Moderation update matched no post",
			slog.String("post_id", postID),
			slog.String("status", status),
		)
	}

	return nil
}
