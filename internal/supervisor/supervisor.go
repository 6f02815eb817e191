package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/italolelis/archive_mirror/internal/job"
	"github.com/italolelis/archive_mirror/internal/logctx"
	"github.com/italolelis/archive_mirror/internal/storage"
	"github.com/italolelis/archive_mirror/internal/telemetry"
)

const terminalEventBuffer = 16

// Supervisor owns the lifecycle of exactly one worker process per active job:
// it claims the job, launches the worker with (identifier, destinationRoot,
// mediaType), folds the worker's event stream into the job store, and writes
// the terminal state on exit.
type Supervisor struct {
	store           storage.JobStore
	launcher        Launcher
	workerBinary    string
	destinationRoot string
	telemetry       *telemetry.Telemetry

	mu     sync.Mutex
	active map[string]activeWorker

	// OnWorkerExit, when set, is invoked after a worker reaches a terminal
	// state. The daemon uses it to re-trigger dispatch for the next queued job.
	OnWorkerExit func()

	// Terminal-state events for notification consumers. Sends are best
	// effort: a slow or absent consumer never blocks supervision.
	OnJobCompleted chan job.Job
	OnJobFailed    chan job.Job
}

// activeWorker tracks one running process and when it was launched.
type activeWorker struct {
	proc      Process
	startedAt time.Time
}

// New constructs a supervisor around the given store and launcher.
func New(store storage.JobStore, launcher Launcher, workerBinary, destinationRoot string, tel *telemetry.Telemetry) *Supervisor {
	return &Supervisor{
		store:           store,
		launcher:        launcher,
		workerBinary:    workerBinary,
		destinationRoot: destinationRoot,
		telemetry:       tel,
		active:          make(map[string]activeWorker),
		OnJobCompleted:  make(chan job.Job, terminalEventBuffer),
		OnJobFailed:     make(chan job.Job, terminalEventBuffer),
	}
}

// Close releases the notification channels.
func (s *Supervisor) Close() {
	close(s.OnJobCompleted)
	close(s.OnJobFailed)
}

// Start claims the job and launches its worker. The claim is the atomic
// queued->downloading transition, so of two concurrent callers exactly one
// starts a worker; the loser returns (false, nil). A worker that cannot be
// spawned transitions the job to failed and returns a job.ProcessError.
//
// Start returns as soon as the worker is running; stream and exit handling
// continue on a background goroutine detached from the caller's context.
func (s *Supervisor) Start(ctx context.Context, j job.Job) (bool, error) {
	logger := logctx.LoggerFromContext(ctx).With("identifier", j.Identifier)

	claimed, err := s.store.Claim(ctx, j.Identifier)
	if err != nil {
		return false, err
	}

	if !claimed {
		logger.Debug("skipping job, already claimed or no longer queued")

		return false, nil
	}

	mediaType := j.MediaType
	if mediaType == "" {
		mediaType = job.DefaultMediaType
	}

	args := []string{j.Identifier, s.destinationRoot, mediaType}

	// The worker must outlive the HTTP request that triggered dispatch.
	workerCtx := context.WithoutCancel(ctx)

	proc, events, err := s.launcher.Launch(workerCtx, s.workerBinary, args)
	if err != nil {
		spawnErr := &job.ProcessError{Identifier: j.Identifier, Operation: "spawn", Err: err}

		// Never leave the job silently stuck in downloading after a failed spawn.
		if _, markErr := s.markFailed(workerCtx, j.Identifier, spawnErr.Error()); markErr != nil {
			logger.Error("failed to record spawn failure", "err", markErr)
		}

		return false, spawnErr
	}

	pid := proc.PID()

	if _, err := s.store.Update(ctx, j.Identifier, job.Update{WorkerPID: &pid}); err != nil {
		logger.Error("failed to record worker pid", "pid", pid, "err", err)
	}

	s.mu.Lock()
	s.active[j.Identifier] = activeWorker{proc: proc, startedAt: time.Now()}
	s.mu.Unlock()

	s.telemetry.IncrementActiveDownloads()

	logger.Info("worker started", "pid", pid, "media_type", mediaType)

	go s.consumeEvents(workerCtx, j.Identifier, events)

	return true, nil
}

// Cancel signals a downloading job's worker (best effort) and deletes the job
// record. The record is removed even when the signal fails, so a signal
// failure never blocks user-visible cancellation.
func (s *Supervisor) Cancel(ctx context.Context, identifier string) error {
	logger := logctx.LoggerFromContext(ctx).With("identifier", identifier)

	current, err := s.store.Get(ctx, identifier)
	if err != nil {
		return err
	}

	if current.Status == job.StatusDownloading {
		s.mu.Lock()
		worker, tracked := s.active[identifier]
		s.mu.Unlock()

		switch {
		case !tracked:
			logger.Warn("no tracked worker process for downloading job, removing record anyway")
		default:
			if err := worker.proc.Signal(syscall.SIGTERM); err != nil {
				// Accepted limitation: the worker may be orphaned.
				logger.Error("failed to signal worker, process may be orphaned", "err", err)
			}
		}
	}

	removed, err := s.store.Remove(ctx, identifier)
	if err != nil {
		return err
	}

	if !removed {
		return &job.NotFoundError{Identifier: identifier}
	}

	logger.Info("download cancelled")

	return nil
}

// Shutdown signals every active worker. Jobs stay in downloading state; on the
// next run their stale records have no tracked process and can be re-queued by
// an operator.
func (s *Supervisor) Shutdown(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	for identifier, worker := range s.active {
		if err := worker.proc.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to signal worker on shutdown", "identifier", identifier, "err", err)
		}
	}
}

// ActiveCount reports how many workers are currently tracked.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.active)
}

func (s *Supervisor) consumeEvents(ctx context.Context, identifier string, events <-chan Event) {
	logger := logctx.LoggerFromContext(ctx).With("identifier", identifier)

	for ev := range events {
		switch ev := ev.(type) {
		case ProgressEvent:
			percent := ev.Percent
			if _, err := s.store.Update(ctx, identifier, job.Update{Progress: &percent}); err != nil {
				s.logUpdateError(logger, "progress", err)
			}
		case StderrEvent:
			// Last line wins: the record always reflects the most recent diagnostic.
			line := ev.Line
			if _, err := s.store.Update(ctx, identifier, job.Update{Error: &line}); err != nil {
				s.logUpdateError(logger, "stderr", err)
			}

			logger.Debug("worker stderr", "line", ev.Line)
		case ExitEvent:
			s.finish(ctx, identifier, ev)
		}
	}
}

func (s *Supervisor) finish(ctx context.Context, identifier string, exit ExitEvent) {
	logger := logctx.LoggerFromContext(ctx).With("identifier", identifier)

	s.mu.Lock()
	worker, tracked := s.active[identifier]
	delete(s.active, identifier)
	s.mu.Unlock()

	s.telemetry.DecrementActiveDownloads()

	var (
		updated *job.Job
		err     error
	)

	if exit.Code == 0 && exit.Err == nil {
		updated, err = s.markCompleted(ctx, identifier)
	} else {
		reason := fmt.Sprintf("Process exited with code %d", exit.Code)
		if exit.Err != nil {
			reason = fmt.Sprintf("Process wait failed: %v", exit.Err)
		}

		updated, err = s.markFailed(ctx, identifier, reason)
	}

	var elapsed time.Duration
	if tracked {
		elapsed = time.Since(worker.startedAt)
	}

	switch {
	case err == nil:
		logger.Info("worker finished", "exit_code", exit.Code, "status", updated.Status)
		s.telemetry.RecordDownload(string(updated.Status), elapsed)
		s.notifyTerminal(*updated)
	default:
		var notFound *job.NotFoundError
		if errors.As(err, &notFound) {
			// Job was cancelled while the worker was shutting down.
			logger.Debug("job record gone before exit was recorded")

			return
		}

		logger.Error("failed to record terminal state", "exit_code", exit.Code, "err", err)
	}

	if s.OnWorkerExit != nil {
		s.OnWorkerExit()
	}
}

func (s *Supervisor) markCompleted(ctx context.Context, identifier string) (*job.Job, error) {
	status := job.StatusCompleted
	full := 100
	now := time.Now().UTC()

	return s.store.Update(ctx, identifier, job.Update{
		Status:         &status,
		Progress:       &full,
		ClearError:     true,
		CompletedAt:    &now,
		ClearWorkerPID: true,
	})
}

func (s *Supervisor) markFailed(ctx context.Context, identifier, reason string) (*job.Job, error) {
	status := job.StatusFailed
	now := time.Now().UTC()

	return s.store.Update(ctx, identifier, job.Update{
		Status:         &status,
		Error:          &reason,
		CompletedAt:    &now,
		ClearWorkerPID: true,
	})
}

func (s *Supervisor) notifyTerminal(j job.Job) {
	ch := s.OnJobCompleted
	if j.Status == job.StatusFailed {
		ch = s.OnJobFailed
	}

	select {
	case ch <- j:
	default:
	}
}

func (s *Supervisor) logUpdateError(logger *slog.Logger, kind string, err error) {
	var notFound *job.NotFoundError
	if errors.As(err, &notFound) {
		logger.Debug("dropping worker update for cancelled job", "kind", kind)

		return
	}

	logger.Error("failed to persist worker update", "kind", kind, "err", err)
}
