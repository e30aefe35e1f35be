package domain

import (
	"errors"
)

const (
	AnalysisStatusPending    = "PENDING"
	AnalysisStatusProcessing = "PROCESSING"
	AnalysisStatusCompleted  = "COMPLETED"
	AnalysisStatusFailed     = "FAILED"
)

// ReasonCancelled is written as the failure reason when a user cancels an
// in-flight analysis.
const ReasonCancelled = "cancelled by user"

var (
	ErrAnalysisNotFound = errors.New("analysis not found")

	// ErrActiveAnalysis means the post already has a PENDING or PROCESSING
	// analysis; a second one would race the worker.
	ErrActiveAnalysis = errors.New("analysis already in progress")

	// ErrNotCancellable means the analysis has already reached a terminal
	// state.
	ErrNotCancellable = errors.New("analysis is not cancellable")

	// ErrNotRetryable means the analysis is not FAILED; only failed
	// analyses can be re-queued.
	ErrNotRetryable = errors.New("analysis is not retryable")
)
