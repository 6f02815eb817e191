package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/archive_mirror/internal/job"
	"github.com/italolelis/archive_mirror/internal/telemetry"
)

// InstrumentedJobRepository wraps JobRepository with telemetry.
type InstrumentedJobRepository struct {
	repo      *JobRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedJobRepository creates a new instrumented job repository.
func NewInstrumentedJobRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedJobRepository {
	return &InstrumentedJobRepository{
		repo:      NewJobRepository(dbConn),
		telemetry: tel,
	}
}

// ListAll retrieves all jobs with telemetry.
func (r *InstrumentedJobRepository) ListAll(ctx context.Context) ([]job.Job, error) {
	var result []job.Job

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "list_jobs", func(ctx context.Context) error {
		result, err = r.repo.ListAll(ctx)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// Get retrieves one job with telemetry.
func (r *InstrumentedJobRepository) Get(ctx context.Context, identifier string) (*job.Job, error) {
	var result *job.Job

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_job", func(ctx context.Context) error {
		result, err = r.repo.Get(ctx, identifier)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// CountByStatus counts jobs with telemetry.
func (r *InstrumentedJobRepository) CountByStatus(ctx context.Context, status job.Status) (int, error) {
	var result int

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "count_jobs", func(ctx context.Context) error {
		result, err = r.repo.CountByStatus(ctx, status)

		return err
	})

	if instrumentedErr != nil {
		return 0, instrumentedErr
	}

	return result, nil
}

// Insert creates a job with telemetry.
func (r *InstrumentedJobRepository) Insert(ctx context.Context, j job.Job) error {
	return r.telemetry.InstrumentDBOperation(ctx, "insert_job", func(ctx context.Context) error {
		return r.repo.Insert(ctx, j)
	})
}

// Update merges job fields with telemetry.
func (r *InstrumentedJobRepository) Update(ctx context.Context, identifier string, upd job.Update) (*job.Job, error) {
	var result *job.Job

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "update_job", func(ctx context.Context) error {
		result, err = r.repo.Update(ctx, identifier, upd)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// Remove deletes a job with telemetry.
func (r *InstrumentedJobRepository) Remove(ctx context.Context, identifier string) (bool, error) {
	var result bool

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "remove_job", func(ctx context.Context) error {
		result, err = r.repo.Remove(ctx, identifier)

		return err
	})

	if instrumentedErr != nil {
		return false, instrumentedErr
	}

	return result, nil
}

// Claim claims a queued job with telemetry.
func (r *InstrumentedJobRepository) Claim(ctx context.Context, identifier string) (bool, error) {
	var result bool

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "claim_job", func(ctx context.Context) error {
		result, err = r.repo.Claim(ctx, identifier)

		return err
	})

	if instrumentedErr != nil {
		return false, instrumentedErr
	}

	return result, nil
}

// ClearCompleted removes completed jobs with telemetry.
func (r *InstrumentedJobRepository) ClearCompleted(ctx context.Context) (int, error) {
	var result int

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "clear_completed", func(ctx context.Context) error {
		result, err = r.repo.ClearCompleted(ctx)

		return err
	})

	if instrumentedErr != nil {
		return 0, instrumentedErr
	}

	return result, nil
}
