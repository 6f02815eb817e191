package storage

import (
	"context"

	"github.com/italolelis/archive_mirror/internal/job"
)

// JobReadStore is the read side of the job collection.
type JobReadStore interface {
	// ListAll returns every job in enqueue order.
	ListAll(ctx context.Context) ([]job.Job, error)
	// Get returns the job for an identifier or job.NotFoundError.
	Get(ctx context.Context, identifier string) (*job.Job, error)
	// CountByStatus returns how many jobs currently carry the given status.
	CountByStatus(ctx context.Context, status job.Status) (int, error)
}

// JobWriteStore is the write side of the job collection. Every mutation is
// atomic with respect to the others: a read-modify-write by one caller is
// never split by another caller's write.
type JobWriteStore interface {
	// Insert creates a queued record, failing with job.ConflictError if any
	// record already exists for the identifier.
	Insert(ctx context.Context, j job.Job) error
	// Update merges partial fields into an existing record and returns the
	// merged result, failing with job.NotFoundError if the identifier is unknown.
	Update(ctx context.Context, identifier string, upd job.Update) (*job.Job, error)
	// Remove deletes a record, reporting whether it existed.
	Remove(ctx context.Context, identifier string) (bool, error)
	// Claim atomically transitions a job from queued to downloading and
	// clears its error. A false return means another dispatcher won the race
	// or the job is no longer queued.
	Claim(ctx context.Context, identifier string) (bool, error)
	// ClearCompleted removes every completed record in one pass and returns
	// the number removed. Failed records are preserved for visibility.
	ClearCompleted(ctx context.Context) (int, error)
}

// JobStore is the single source of truth for the download queue.
type JobStore interface {
	JobReadStore
	JobWriteStore
}
