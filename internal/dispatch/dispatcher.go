// Package dispatch selects the next eligible queued job and hands it to the
// process supervisor. It has no scheduler of its own: every invocation starts
// at most one job, and callers (enqueue, the HTTP trigger, the daemon ticker,
// worker-exit hooks) are responsible for invoking it again until the queue
// drains.
package dispatch

import (
	"context"
	"sync"

	"github.com/italolelis/archive_mirror/internal/job"
	"github.com/italolelis/archive_mirror/internal/logctx"
	"github.com/italolelis/archive_mirror/internal/storage"
	"github.com/italolelis/archive_mirror/internal/telemetry"
)

// Starter launches the worker for one claimed job. Implemented by the
// supervisor; the bool result reports whether this caller won the claim.
type Starter interface {
	Start(ctx context.Context, j job.Job) (bool, error)
}

// Dispatcher scans the job store and starts the first queued job when the
// downloading count is below the concurrency limit.
type Dispatcher struct {
	store     storage.JobStore
	starter   Starter
	limit     int
	telemetry *telemetry.Telemetry

	// Serializes invocations: the limit check and the claim must not
	// interleave, or two invocations can each read a stale downloading count
	// and start one worker over the limit. The daemon holds an instance lock,
	// so in-process serialization is sufficient.
	mu sync.Mutex
}

// New constructs a dispatcher. A limit below one is treated as one.
func New(store storage.JobStore, starter Starter, limit int, tel *telemetry.Telemetry) *Dispatcher {
	if limit < 1 {
		limit = 1
	}

	return &Dispatcher{
		store:     store,
		starter:   starter,
		limit:     limit,
		telemetry: tel,
	}
}

// Dispatch starts at most one job and reports whether it did. Concurrent
// invocations are safe: they run one at a time, and the queued->downloading
// claim inside Start guards against claims from outside this dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	logger := logctx.LoggerFromContext(ctx)

	downloading, err := d.store.CountByStatus(ctx, job.StatusDownloading)
	if err != nil {
		d.telemetry.RecordDispatch("error")

		return false, err
	}

	if downloading >= d.limit {
		logger.Debug("concurrency limit reached", "downloading", downloading, "limit", d.limit)
		d.telemetry.RecordDispatch("at_limit")

		return false, nil
	}

	next, err := d.nextQueued(ctx)
	if err != nil {
		d.telemetry.RecordDispatch("error")

		return false, err
	}

	if next == nil {
		logger.Debug("nothing queued")
		d.telemetry.RecordDispatch("empty")

		return false, nil
	}

	started, err := d.starter.Start(ctx, *next)
	if err != nil {
		d.telemetry.RecordDispatch("error")

		return false, err
	}

	if !started {
		// Another dispatch invocation claimed it first.
		d.telemetry.RecordDispatch("lost_claim")

		return false, nil
	}

	d.telemetry.RecordDispatch("started")

	return true, nil
}

// nextQueued returns the first queued job in enqueue order, or nil.
func (d *Dispatcher) nextQueued(ctx context.Context) (*job.Job, error) {
	jobs, err := d.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	for i := range jobs {
		if jobs[i].Status == job.StatusQueued {
			return &jobs[i], nil
		}
	}

	return nil, nil
}
