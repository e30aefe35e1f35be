package router

import (
	"github.com/gin-gonic/gin"

	"github.com/purepost/analysis-service/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	analysisHandler := handler.NewAnalysisHandler(deps)

	// Health check endpoint, outside the authenticated surface
	r.GET("/health", analysisHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware())
	{
		posts := v1.Group("/posts/:post_id/analysis")
		{
			// POST /api/v1/posts/:post_id/analysis - Queue an analysis
			posts.POST("", analysisHandler.SubmitAnalysis)

			// GET /api/v1/posts/:post_id/analysis - Get the latest analysis
			posts.GET("", analysisHandler.GetAnalysis)

			// POST /api/v1/posts/:post_id/analysis/cancel - Cancel an active analysis
			posts.POST("/cancel", analysisHandler.CancelAnalysis)

			// POST /api/v1/posts/:post_id/analysis/retry - Re-queue a failed analysis
			posts.POST("/retry", analysisHandler.RetryAnalysis)
		}

		analyses := v1.Group("/analyses")
		{
			// GET /api/v1/analyses - List analyses with pagination
			analyses.GET("", analysisHandler.ListAnalyses)

			// GET /api/v1/analyses/statistics - Aggregate counts and scores
			analyses.GET("/statistics", analysisHandler.GetStatistics)
		}
	}

	return r
}
