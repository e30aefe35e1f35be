package handler

import (
	"context"
	"log/slog"

	"github.com/purepost/analysis-service/internal/api/model"
	"github.com/purepost/analysis-service/internal/api/storage"
	"github.com/purepost/analysis-service/internal/content"
	"github.com/purepost/analysis-service/internal/detection"
)

// AnalysisStore is the analysis persistence surface the handlers need
type AnalysisStore interface {
	CreateAnalysis(ctx context.Context, analysis *model.Analysis) error
	GetLatestByPostID(ctx context.Context, postID string) (*model.Analysis, error)
	Cancel(ctx context.Context, analysisID, reason string) error
	ResetForRetry(ctx context.Context, analysisID string) error
	ListAnalyses(ctx context.Context, filter storage.AnalysisFilter) ([]model.Analysis, error)
	Statistics(ctx context.Context, userID string) (*model.Statistics, error)
}

// PostStore reads posts for ownership checks and writes their visible
// moderation state
type PostStore interface {
	GetPost(ctx context.Context, postID string) (*content.Post, error)
	SetModerationStatus(ctx context.Context, postID, status string, score *float64) error
}

// Publisher enqueues analysis ids for the worker pool
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Pinger checks database liveness
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// BackendProber checks the detection backend
type BackendProber interface {
	CheckHealth(ctx context.Context) (*detection.Health, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Analyses  AnalysisStore
	Posts     PostStore
	Publisher Publisher
	DB        Pinger
	Detection BackendProber
}

// AnalysisHandler handles analysis-related HTTP requests
type AnalysisHandler struct {
	logger    *slog.Logger
	analyses  AnalysisStore
	posts     PostStore
	publisher Publisher
	db        Pinger
	detection BackendProber
}

// NewAnalysisHandler creates a new AnalysisHandler instance
func NewAnalysisHandler(deps *Dependencies) *AnalysisHandler {
	return &AnalysisHandler{
		logger:    deps.Logger,
		analyses:  deps.Analyses,
		posts:     deps.Posts,
		publisher: deps.Publisher,
		db:        deps.DB,
		detection: deps.Detection,
	}
}
