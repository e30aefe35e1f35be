package detection

import "errors"

// Failure classes for a single detection attempt. The orchestrator treats
// all four as transient and owns the retry policy; the client never retries.
var (
	// ErrTimeout is returned when the backend does not answer within the
	// caller-supplied deadline
	ErrTimeout = errors.New("detection request timed out")

	// ErrUnreachable is returned on connection refused / DNS failures
	ErrUnreachable = errors.New("detection backend unreachable")

	// ErrBackend is returned on a non-success status or a malformed or
	// unsuccessful response body
	ErrBackend = errors.New("detection backend error")

	// ErrEmptyResult is returned when the response parses but carries no
	// predictions
	ErrEmptyResult = errors.New("detection backend returned no predictions")
)
