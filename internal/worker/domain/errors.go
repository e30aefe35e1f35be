package domain

import "errors"

var (
	// ErrAnalysisNotFound is returned when an analysis cannot be found
	ErrAnalysisNotFound = errors.New("analysis not found")

	// ErrAlreadyClaimed is returned when claiming an analysis that is not
	// in PENDING status. A claim miss is a race already resolved by another
	// worker, not a failure.
	ErrAlreadyClaimed = errors.New("analysis already claimed or not in PENDING status")

	// ErrNotProcessing is returned when a terminal write finds the analysis
	// no longer PROCESSING, meaning the attempt's result must be discarded
	ErrNotProcessing = errors.New("analysis is not in PROCESSING status")
)

// RetryableError wraps transient errors that should trigger a queue requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
