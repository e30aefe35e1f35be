package domain

// Analysis status constants. COMPLETED and FAILED are terminal; only FAILED
// may be reset back to PENDING by an explicit retry request.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Failure reasons written by the pipeline itself. User-supplied retries
// clear these; the reaper and cancellation paths set them verbatim.
const (
	ReasonCancelled         = "cancelled by user"
	ReasonTimedOut          = "timed out"
	ReasonSourceUnavailable = "source unavailable"
)
