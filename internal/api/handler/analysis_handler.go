package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/purepost/analysis-service/internal/api/domain"
	"github.com/purepost/analysis-service/internal/api/dto"
	"github.com/purepost/analysis-service/internal/api/model"
	"github.com/purepost/analysis-service/internal/api/storage"
	"github.com/purepost/analysis-service/internal/content"
)

// analysisMessage is the queue payload consumed by the worker service
type analysisMessage struct {
	AnalysisID string `json:"analysis_id"`
}

// identity reads the caller identity set by the auth middleware
func identity(c *gin.Context) (userID string, isAdmin bool) {
	return c.GetString("user_id"), c.GetBool("is_admin")
}

// authorizedPost loads the post and enforces owner-or-admin access. Writes
// the error response and returns nil when the caller may not proceed.
func (h *AnalysisHandler) authorizedPost(c *gin.Context) *content.Post {
	postID := c.Param("post_id")
	if _, err := uuid.Parse(postID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "post_id must be a valid UUID",
		})
		return nil
	}

	post, err := h.posts.GetPost(c.Request.Context(), postID)
	if err != nil {
		if errors.Is(err, content.ErrPostNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Post not found",
			})
			return nil
		}
		h.logger.Error("Failed to get post", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get post",
		})
		return nil
	}

	userID, isAdmin := identity(c)
	if post.UserID != userID && !isAdmin {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "You do not have permission to manage analyses for this post",
		})
		return nil
	}

	return post
}

// SubmitAnalysis handles POST /api/v1/posts/:post_id/analysis
// Queues a deepfake analysis for the post's image
func (h *AnalysisHandler) SubmitAnalysis(c *gin.Context) {
	post := h.authorizedPost(c)
	if post == nil {
		return
	}

	ctx := c.Request.Context()
	analysisID := ""

	latest, err := h.analyses.GetLatestByPostID(ctx, post.ID)
	switch {
	case err == nil && (latest.Status == domain.AnalysisStatusPending || latest.Status == domain.AnalysisStatusProcessing):
		c.JSON(http.StatusConflict, gin.H{
			"error":       "Analysis already in progress",
			"analysis_id": latest.ID,
			"status":      latest.Status,
		})
		return

	case err == nil && latest.Status == domain.AnalysisStatusCompleted:
		c.JSON(http.StatusConflict, gin.H{
			"error":       "Post has already been analyzed",
			"analysis_id": latest.ID,
			"status":      latest.Status,
		})
		return

	case err == nil && latest.Status == domain.AnalysisStatusFailed:
		// Reuse the failed row rather than growing a second history.
		if err := h.analyses.ResetForRetry(ctx, latest.ID); err != nil {
			if errors.Is(err, domain.ErrNotRetryable) {
				// Lost a race with a concurrent submit.
				c.JSON(http.StatusConflict, gin.H{
					"error": "Analysis already in progress",
				})
				return
			}
			h.logger.Error("Failed to reset analysis", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to submit analysis",
			})
			return
		}
		analysisID = latest.ID

	case err == nil || errors.Is(err, domain.ErrAnalysisNotFound):
		analysis := model.Analysis{
			ID:        uuid.New().String(),
			Status:    domain.AnalysisStatusPending,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		analysis.PostID.String = post.ID
		analysis.PostID.Valid = true

		if err := h.analyses.CreateAnalysis(ctx, &analysis); err != nil {
			if errors.Is(err, domain.ErrActiveAnalysis) {
				c.JSON(http.StatusConflict, gin.H{
					"error": "Analysis already in progress",
				})
				return
			}
			h.logger.Error("Failed to create analysis", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to submit analysis",
			})
			return
		}
		analysisID = analysis.ID

	default:
		h.logger.Error("Failed to look up analysis", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit analysis",
		})
		return
	}

	if err := h.posts.SetModerationStatus(ctx, post.ID, content.StatusAnalyzing, nil); err != nil {
		h.logger.Error("Failed to mark post as analyzing", slog.String("error", err.Error()))
	}

	if err := h.publish(c, analysisID); err != nil {
		return
	}

	h.logger.Info("Analysis submitted",
		slog.String("analysis_id", analysisID),
		slog.String("post_id", post.ID),
	)

	c.JSON(http.StatusCreated, gin.H{
		"analysis_id": analysisID,
		"post_id":     post.ID,
		"status":      domain.AnalysisStatusPending,
	})
}

// publish enqueues the analysis id, writing the error response on failure
func (h *AnalysisHandler) publish(c *gin.Context, analysisID string) error {
	body, err := json.Marshal(analysisMessage{AnalysisID: analysisID})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit analysis",
		})
		return err
	}

	if err := h.publisher.PublishWithRetry(c.Request.Context(), body, "application/json"); err != nil {
		h.logger.Error("Failed to publish analysis message",
			slog.String("analysis_id", analysisID),
			slog.String("error", err.Error()),
		)
		// The PENDING row stays; the retry endpoint can republish it.
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue analysis",
		})
		return err
	}

	return nil
}

// GetAnalysis handles GET /api/v1/posts/:post_id/analysis
// Returns the latest analysis for the post
func (h *AnalysisHandler) GetAnalysis(c *gin.Context) {
	post := h.authorizedPost(c)
	if post == nil {
		return
	}

	analysis, err := h.analyses.GetLatestByPostID(c.Request.Context(), post.ID)
	if err != nil {
		if errors.Is(err, domain.ErrAnalysisNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "No analysis exists for this post",
			})
			return
		}
		h.logger.Error("Failed to get analysis", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get analysis",
		})
		return
	}

	c.JSON(http.StatusOK, toDTO(analysis))
}

// CancelAnalysis handles POST /api/v1/posts/:post_id/analysis/cancel
// Cancels a pending or in-flight analysis
func (h *AnalysisHandler) CancelAnalysis(c *gin.Context) {
	post := h.authorizedPost(c)
	if post == nil {
		return
	}

	ctx := c.Request.Context()
	analysis, err := h.analyses.GetLatestByPostID(ctx, post.ID)
	if err != nil {
		if errors.Is(err, domain.ErrAnalysisNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "No analysis exists for this post",
			})
			return
		}
		h.logger.Error("Failed to get analysis", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cancel analysis",
		})
		return
	}

	if err := h.analyses.Cancel(ctx, analysis.ID, domain.ReasonCancelled); err != nil {
		if errors.Is(err, domain.ErrNotCancellable) {
			c.JSON(http.StatusConflict, gin.H{
				"error":  "Analysis has already finished",
				"status": analysis.Status,
			})
			return
		}
		h.logger.Error("Failed to cancel analysis", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cancel analysis",
		})
		return
	}

	if err := h.posts.SetModerationStatus(ctx, post.ID, content.StatusAnalysisFailed, nil); err != nil {
		h.logger.Error("Failed to update post moderation status", slog.String("error", err.Error()))
	}

	h.logger.Info("Analysis cancelled",
		slog.String("analysis_id", analysis.ID),
		slog.String("post_id", post.ID),
	)

	c.JSON(http.StatusOK, gin.H{
		"analysis_id":    analysis.ID,
		"status":         domain.AnalysisStatusFailed,
		"failure_reason": domain.ReasonCancelled,
	})
}

// RetryAnalysis handles POST /api/v1/posts/:post_id/analysis/retry
// Re-queues a failed analysis
func (h *AnalysisHandler) RetryAnalysis(c *gin.Context) {
	post := h.authorizedPost(c)
	if post == nil {
		return
	}

	ctx := c.Request.Context()
	analysis, err := h.analyses.GetLatestByPostID(ctx, post.ID)
	if err != nil {
		if errors.Is(err, domain.ErrAnalysisNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "No analysis exists for this post",
			})
			return
		}
		h.logger.Error("Failed to get analysis", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retry analysis",
		})
		return
	}

	if err := h.analyses.ResetForRetry(ctx, analysis.ID); err != nil {
		if errors.Is(err, domain.ErrNotRetryable) {
			c.JSON(http.StatusConflict, gin.H{
				"error":  "Only failed analyses can be retried",
				"status": analysis.Status,
			})
			return
		}
		h.logger.Error("Failed to reset analysis", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retry analysis",
		})
		return
	}

	if err := h.posts.SetModerationStatus(ctx, post.ID, content.StatusAnalyzing, nil); err != nil {
		h.logger.Error("Failed to mark post as analyzing", slog.String("error", err.Error()))
	}

	if err := h.publish(c, analysis.ID); err != nil {
		return
	}

	h.logger.Info("Analysis retried",
		slog.String("analysis_id", analysis.ID),
		slog.String("post_id", post.ID),
	)

	c.JSON(http.StatusOK, gin.H{
		"analysis_id": analysis.ID,
		"status":      domain.AnalysisStatusPending,
	})
}

// ListAnalyses handles GET /api/v1/analyses
// Lists the caller's analyses with keyset pagination; admins may pass
// all=true to drop the owner scope
func (h *AnalysisHandler) ListAnalyses(c *gin.Context) {
	var req dto.ListAnalysesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeAnalysisCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	userID, isAdmin := identity(c)
	scope := userID
	if req.All && isAdmin {
		scope = ""
	}

	filter := storage.AnalysisFilter{
		UserID:   scope,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	analyses, err := h.analyses.ListAnalyses(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list analyses", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list analyses",
		})
		return
	}

	hasMore := len(analyses) > req.PageSize
	if hasMore {
		analyses = analyses[:req.PageSize]
	}

	response := make([]dto.AnalysisDTO, len(analyses))
	for i := range analyses {
		response[i] = toDTO(&analyses[i])
	}

	var nextCursor string
	if hasMore {
		last := analyses[len(analyses)-1]
		nextCursor, err = EncodeAnalysisCursor(&storage.AnalysisCursor{
			CreatedAt:  last.CreatedAt,
			AnalysisID: last.ID,
		})
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListAnalysesResponse{
		Analyses:   response,
		NextCursor: nextCursor,
	})
}

// GetStatistics handles GET /api/v1/analyses/statistics
func (h *AnalysisHandler) GetStatistics(c *gin.Context) {
	userID, isAdmin := identity(c)
	scope := userID
	if c.Query("all") == "true" && isAdmin {
		scope = ""
	}

	stats, err := h.analyses.Statistics(c.Request.Context(), scope)
	if err != nil {
		h.logger.Error("Failed to aggregate statistics", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to aggregate statistics",
		})
		return
	}

	resp := dto.StatisticsResponse{
		Total:             stats.Total,
		Pending:           stats.Pending,
		Processing:        stats.Processing,
		Completed:         stats.Completed,
		Failed:            stats.Failed,
		DeepfakesDetected: stats.DeepfakesDetected,
	}
	if stats.AverageScore.Valid {
		resp.AverageScore = &stats.AverageScore.Float64
	}

	c.JSON(http.StatusOK, resp)
}

// Health handles GET /health
// Reports service, database and detection backend health
func (h *AnalysisHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	dbStatus := "healthy"
	status := http.StatusOK
	if err := h.db.HealthCheck(ctx); err != nil {
		dbStatus = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	// A down detection backend degrades the service but the API itself
	// still serves reads.
	detectionStatus := "healthy"
	if health, err := h.detection.CheckHealth(ctx); err != nil || !health.ModelLoaded {
		detectionStatus = "unhealthy"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	} else if detectionStatus != "healthy" {
		overall = "degraded"
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "analysis-api-service",
		"components": gin.H{
			"database":          dbStatus,
			"detection_backend": detectionStatus,
		},
	})
}

// toDTO maps a stored analysis onto its wire shape, omitting result fields
// that have not been populated yet
func toDTO(a *model.Analysis) dto.AnalysisDTO {
	d := dto.AnalysisDTO{
		ID:         a.ID,
		Status:     a.Status,
		RetryCount: a.RetryCount,
		CreatedAt:  a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  a.UpdatedAt.Format(time.RFC3339),
	}

	if a.PostID.Valid {
		d.PostID = a.PostID.String
	}
	if a.IsDeepfake.Valid {
		d.IsDeepfake = &a.IsDeepfake.Bool
	}
	if a.DeepfakeScore.Valid {
		d.DeepfakeScore = &a.DeepfakeScore.Float64
	}
	if a.RealScore.Valid {
		d.RealScore = &a.RealScore.Float64
	}
	if a.ModelLatencySeconds.Valid {
		d.ModelLatencySeconds = &a.ModelLatencySeconds.Float64
	}
	if a.FailureReason.Valid {
		d.FailureReason = a.FailureReason.String
	}
	if a.CompletedAt.Valid {
		d.CompletedAt = a.CompletedAt.Time.Format(time.RFC3339)
	}

	return d
}
