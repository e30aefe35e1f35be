package dto

// AnalysisDTO is the wire shape of an analysis
type AnalysisDTO struct {
	ID                  string   `json:"id"`
	PostID              string   `json:"post_id,omitempty"`
	Status              string   `json:"status"`
	IsDeepfake          *bool    `json:"is_deepfake,omitempty"`
	DeepfakeScore       *float64 `json:"deepfake_score,omitempty"`
	RealScore           *float64 `json:"real_score,omitempty"`
	ModelLatencySeconds *float64 `json:"model_latency_seconds,omitempty"`
	FailureReason       string   `json:"failure_reason,omitempty"`
	RetryCount          int      `json:"retry_count"`
	CreatedAt           string   `json:"created_at"`
	UpdatedAt           string   `json:"updated_at"`
	CompletedAt         string   `json:"completed_at,omitempty"`
}

type ListAnalysesRequest struct {
	Status   string `form:"status"`
	All      bool   `form:"all"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListAnalysesResponse struct {
	Analyses   []AnalysisDTO `json:"analyses"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type StatisticsResponse struct {
	Total             int64    `json:"total"`
	Pending           int64    `json:"pending"`
	Processing        int64    `json:"processing"`
	Completed         int64    `json:"completed"`
	Failed            int64    `json:"failed"`
	DeepfakesDetected int64    `json:"deepfakes_detected"`
	AverageScore      *float64 `json:"average_score,omitempty"`
}
