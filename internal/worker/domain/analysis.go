package domain

import "time"

// Analysis is one deepfake classification request as seen by the worker
type Analysis struct {
	ID          string
	PostID      string // empty when the owning post was deleted
	Status      string
	RetryCount  int
	TaskRef     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// AnalysisMessage is the queue message carrying one analysis id
type AnalysisMessage struct {
	AnalysisID  string `json:"analysis_id"`
	DeliveryTag uint64 `json:"-"`
}

// Outcome holds the result fields persisted on a completed analysis
type Outcome struct {
	IsDeepfake          bool
	DeepfakeScore       float64
	RealScore           float64
	ModelLatencySeconds float64
	RawResult           []byte // opaque backend response, kept for audit
}
