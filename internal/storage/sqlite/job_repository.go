package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/italolelis/archive_mirror/internal/job"
	sqlite3 "github.com/mattn/go-sqlite3"
)

const jobColumns = `identifier, title, media_type, status, progress, error, started_at, completed_at, worker_pid`

// JobRepository stores download jobs in SQLite. Every mutation is a single
// statement or transaction, so concurrent writers cannot interleave inside a
// read-modify-write.
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(dbConn *sql.DB) *JobRepository {
	return &JobRepository{db: dbConn}
}

// ListAll returns every job in enqueue order (rowid order).
func (r *JobRepository) ListAll(ctx context.Context) ([]job.Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM download_jobs ORDER BY id`)
	if err != nil {
		return nil, &job.StorageError{Operation: "list", Err: err}
	}
	defer rows.Close()

	var jobs []job.Job

	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, &job.StorageError{Operation: "list", Err: err}
		}

		jobs = append(jobs, *j)
	}

	if err := rows.Err(); err != nil {
		return nil, &job.StorageError{Operation: "list", Err: err}
	}

	return jobs, nil
}

// Get returns the job for an identifier.
func (r *JobRepository) Get(ctx context.Context, identifier string) (*job.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM download_jobs WHERE identifier = ?`, identifier)

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &job.NotFoundError{Identifier: identifier}
		}

		return nil, &job.StorageError{Operation: "get", Err: err}
	}

	return j, nil
}

// CountByStatus returns how many jobs currently carry the given status.
func (r *JobRepository) CountByStatus(ctx context.Context, status job.Status) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM download_jobs WHERE status = ?`, string(status),
	).Scan(&count); err != nil {
		return 0, &job.StorageError{Operation: "count", Err: err}
	}

	return count, nil
}

// Insert creates a queued record. The UNIQUE constraint on identifier is the
// duplicate guard, so two concurrent enqueues cannot both succeed.
func (r *JobRepository) Insert(ctx context.Context, j job.Job) error {
	startedAt := time.Now().UTC()
	if j.StartedAt != nil {
		startedAt = j.StartedAt.UTC()
	}

	mediaType := j.MediaType
	if mediaType == "" {
		mediaType = job.DefaultMediaType
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO download_jobs (identifier, title, media_type, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		j.Identifier, j.Title, mediaType, string(job.StatusQueued), startedAt.Format(time.RFC3339),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return &job.ConflictError{Identifier: j.Identifier}
		}

		return &job.StorageError{Operation: "insert", Err: err}
	}

	return nil
}

// Update merges partial fields into an existing record and returns the merged
// result. Progress writes use MAX so an observed progress sequence is
// non-decreasing even if the worker re-emits a lower value. The ExpectStatus
// guard lives in the WHERE clause, so a stale transition never lands.
func (r *JobRepository) Update(ctx context.Context, identifier string, upd job.Update) (*job.Job, error) {
	set, args := buildUpdate(upd)
	if len(set) == 0 {
		return r.Get(ctx, identifier)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &job.StorageError{Operation: "update", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	where := `identifier = ?`
	args = append(args, identifier)

	if upd.ExpectStatus != nil {
		where += ` AND status = ?`
		args = append(args, string(*upd.ExpectStatus))
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE download_jobs SET `+strings.Join(set, ", ")+` WHERE `+where, args...)
	if err != nil {
		return nil, &job.StorageError{Operation: "update", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, &job.StorageError{Operation: "update", Err: err}
	}

	if affected == 0 {
		// Same transaction, so this tells missing apart from a guard miss.
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM download_jobs WHERE identifier = ?`, identifier).Scan(&status)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, &job.NotFoundError{Identifier: identifier}
		case err != nil:
			return nil, &job.StorageError{Operation: "update", Err: err}
		}

		return nil, &job.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("job is %s, not %s; transition no longer applies", status, string(*upd.ExpectStatus)),
		}
	}

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM download_jobs WHERE identifier = ?`, identifier)

	merged, err := scanJob(row)
	if err != nil {
		return nil, &job.StorageError{Operation: "update", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &job.StorageError{Operation: "update", Err: err}
	}

	return merged, nil
}

// Remove deletes a record, reporting whether it existed.
func (r *JobRepository) Remove(ctx context.Context, identifier string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM download_jobs WHERE identifier = ?`, identifier)
	if err != nil {
		return false, &job.StorageError{Operation: "remove", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, &job.StorageError{Operation: "remove", Err: err}
	}

	return affected > 0, nil
}

// Claim atomically transitions a job from queued to downloading and clears
// its error. The affected-rows check is what makes queued->downloading the
// operation that claims a job: a second dispatcher observing the job already
// downloading gets zero rows and skips it.
func (r *JobRepository) Claim(ctx context.Context, identifier string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE download_jobs SET status = ?, error = NULL WHERE identifier = ? AND status = ?`,
		string(job.StatusDownloading), identifier, string(job.StatusQueued),
	)
	if err != nil {
		return false, &job.StorageError{Operation: "claim", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, &job.StorageError{Operation: "claim", Err: err}
	}

	return affected > 0, nil
}

// ClearCompleted removes every completed record in one pass. Failed records
// are never touched, preserving failure visibility.
func (r *JobRepository) ClearCompleted(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM download_jobs WHERE status = ?`, string(job.StatusCompleted))
	if err != nil {
		return 0, &job.StorageError{Operation: "clear_completed", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, &job.StorageError{Operation: "clear_completed", Err: err}
	}

	return int(affected), nil
}

func buildUpdate(upd job.Update) (set []string, args []any) {
	if upd.Title != nil {
		set = append(set, "title = ?")
		args = append(args, *upd.Title)
	}

	if upd.MediaType != nil {
		set = append(set, "media_type = ?")
		args = append(args, *upd.MediaType)
	}

	if upd.Status != nil {
		set = append(set, "status = ?")
		args = append(args, string(*upd.Status))
	}

	if upd.Progress != nil {
		set = append(set, "progress = MAX(COALESCE(progress, 0), ?)")
		args = append(args, *upd.Progress)
	}

	switch {
	case upd.ClearError:
		set = append(set, "error = NULL")
	case upd.Error != nil:
		set = append(set, "error = ?")
		args = append(args, *upd.Error)
	}

	if upd.CompletedAt != nil {
		set = append(set, "completed_at = ?")
		args = append(args, upd.CompletedAt.UTC().Format(time.RFC3339))
	}

	switch {
	case upd.ClearWorkerPID:
		set = append(set, "worker_pid = NULL")
	case upd.WorkerPID != nil:
		set = append(set, "worker_pid = ?")
		args = append(args, *upd.WorkerPID)
	}

	return set, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j           job.Job
		status      string
		progress    sql.NullInt64
		jobErr      sql.NullString
		startedAt   sql.NullString
		completedAt sql.NullString
		workerPID   sql.NullInt64
	)

	if err := row.Scan(&j.Identifier, &j.Title, &j.MediaType, &status, &progress, &jobErr, &startedAt, &completedAt, &workerPID); err != nil {
		return nil, err
	}

	j.Status = job.Status(status)

	if progress.Valid {
		p := int(progress.Int64)
		j.Progress = &p
	}

	if jobErr.Valid {
		j.Error = jobErr.String
	}

	var err error

	if j.StartedAt, err = parseTimestamp(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}

	if j.CompletedAt, err = parseTimestamp(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}

	if workerPID.Valid {
		pid := int(workerPID.Int64)
		j.WorkerPID = &pid
	}

	return &j, nil
}

func parseTimestamp(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}

	ts, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil, err
	}

	return &ts, nil
}
