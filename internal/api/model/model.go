package model

import (
	"database/sql"
	"time"
)

// Analysis is the image_analyses row as the API reads it. Result fields are
// nullable: they are only populated once the analysis reaches a terminal
// state.
type Analysis struct {
	ID                  string          `db:"id"`
	PostID              sql.NullString  `db:"post_id"`
	Status              string          `db:"status"`
	IsDeepfake          sql.NullBool    `db:"is_deepfake"`
	DeepfakeScore       sql.NullFloat64 `db:"deepfake_score"`
	RealScore           sql.NullFloat64 `db:"real_score"`
	ModelLatencySeconds sql.NullFloat64 `db:"model_latency_seconds"`
	RawResult           []byte          `db:"raw_result"`
	FailureReason       sql.NullString  `db:"failure_reason"`
	TaskRef             sql.NullString  `db:"task_ref"`
	RetryCount          int             `db:"retry_count"`
	CreatedAt           time.Time       `db:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at"`
	CompletedAt         sql.NullTime    `db:"completed_at"`
}

// Statistics aggregates analyses for the statistics endpoint
type Statistics struct {
	Total             int64           `db:"total"`
	Pending           int64           `db:"pending"`
	Processing        int64           `db:"processing"`
	Completed         int64           `db:"completed"`
	Failed            int64           `db:"failed"`
	DeepfakesDetected int64           `db:"deepfakes_detected"`
	AverageScore      sql.NullFloat64 `db:"average_score"`
}
