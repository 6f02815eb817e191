package job

import "fmt"

// ValidationError represents bad input from a caller. Never retried and
// surfaced as a 4xx at the HTTP boundary.
type ValidationError struct {
	Field  string // The request field that failed validation
	Reason string // Human-readable explanation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError represents an enqueue for an identifier that already has a
// record, regardless of that record's status.
type ConflictError struct {
	Identifier string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("download already exists for %q", e.Identifier)
}

// NotFoundError represents an operation against an unknown identifier.
type NotFoundError struct {
	Identifier string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no download found for %q", e.Identifier)
}

// ProcessError represents a worker spawn or signal failure.
type ProcessError struct {
	Identifier string
	Operation  string // "spawn" or "signal"
	Err        error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("worker %s failed for %q: %v", e.Operation, e.Identifier, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// NetworkError represents a remote archive call failure, including 5xx
// responses, connection failures and rate limiting. StatusCode is 0 for
// non-HTTP transport errors.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "search", "fetch_metadata")
	StatusCode int
	APIMessage string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.APIMessage)
	}

	return fmt.Sprintf("network error during %s: %s", e.Operation, e.APIMessage)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StorageError represents a persisted-state read or write failure. The job
// that triggered it remains in its last successfully persisted state.
type StorageError struct {
	Operation string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Operation, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
