package job

import "time"

// Status is the state-machine field of a download job.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// DefaultMediaType is passed to the worker when the catalog entry carries no media type.
const DefaultMediaType = "other"

// Job is one record per archive item being mirrored. The identifier doubles
// as the store's primary key; at most one record exists per identifier.
type Job struct {
	Identifier  string     `json:"identifier"`
	Title       string     `json:"title"`
	MediaType   string     `json:"mediaType,omitempty"`
	Status      Status     `json:"status"`
	Progress    *int       `json:"progress,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	WorkerPID   *int       `json:"workerPid,omitempty"`
}

// IsTerminal reports whether no further supervisor-driven transitions occur.
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// ValidStatus reports whether s is one of the known states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusQueued, StatusDownloading, StatusCompleted, StatusFailed:
		return true
	}

	return false
}

// CanTransition reports whether the state machine permits moving from one
// status to another. Downloading never reverts to queued; cancellation
// removes the record instead.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}

	switch from {
	case StatusQueued:
		return to == StatusDownloading
	case StatusDownloading:
		return to == StatusCompleted || to == StatusFailed
	}

	return false
}

// Update is a partial-field merge applied to an existing job record.
// Nil pointers leave the stored field untouched; the Clear* flags reset
// optional fields that a plain merge could never erase.
type Update struct {
	Title       *string
	MediaType   *string
	Status      *Status
	Progress    *int
	Error       *string
	CompletedAt *time.Time
	WorkerPID   *int

	ClearError     bool
	ClearWorkerPID bool

	// ExpectStatus is a guard, not a merged field: when set, the update only
	// applies while the stored status still matches, so a transition validated
	// against a snapshot cannot land after a concurrent status change.
	ExpectStatus *Status
}
