package content

import (
	"context"
	"log/slog"
)

// ModerationHook decides a post's visible moderation status from a terminal
// analysis. The flag threshold is policy and lives here, outside the
// numeric pipeline: the worker only supplies the score.
type ModerationHook struct {
	storage   *Storage
	threshold float64
	logger    *slog.Logger
}

// NewModerationHook creates a hook with the configured alert threshold
func NewModerationHook(storage *Storage, threshold float64, logger *slog.Logger) *ModerationHook {
	return &ModerationHook{storage: storage, threshold: threshold, logger: logger}
}

// OnCompleted marks the post flagged when the classification says deepfake
// with at least threshold confidence, not_flagged otherwise. The score is
// recorded either way so clients can show it.
func (h *ModerationHook) OnCompleted(ctx context.Context, postID string, isDeepfake bool, score float64) error {
	status := StatusNotFlagged
	if isDeepfake && score >= h.threshold {
		status = StatusFlagged
	}

	h.logger.Info("Applying moderation status",
		slog.String("post_id", postID),
		slog.String("status", status),
		slog.Float64("deepfake_score", score),
	)

	return h.storage.SetModerationStatus(ctx, postID, status, &score)
}

// OnFailed marks the post's analysis as failed so it does not sit in an
// "analyzing" state forever.
func (h *ModerationHook) OnFailed(ctx context.Context, postID, reason string) error {
	h.logger.Info("Marking post analysis failed",
		slog.String("post_id", postID),
		slog.String("reason", reason),
	)

	return h.storage.SetModerationStatus(ctx, postID, StatusAnalysisFailed, nil)
}
