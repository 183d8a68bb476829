package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const jobColumns = `id, tenant_id, job_type, status, progress_percent, current_stage,
	params, result, error_message, cancel_requested, started_at, completed_at, created_at`

func scanJob(row pgx.Row) (*Job, error) {
	var job Job
	err := row.Scan(&job.ID, &job.TenantID, &job.Type, &job.Status,
		&job.ProgressPercent, &job.CurrentStage, &job.Params, &job.Result,
		&job.ErrorMessage, &job.CancelRequested, &job.StartedAt,
		&job.CompletedAt, &job.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJob inserts a new pending job. The partial unique index
// jobs_one_active_per_tenant_type makes the no-active-job check and the
// insert a single atomic operation: if another pending/running job of the
// same type exists for the tenant, the insert fails and ErrActiveJobExists
// is returned. Two concurrent create requests can never both succeed.
func (db *DB) CreateJob(ctx context.Context, tenantID uuid.UUID, jobType string, params json.RawMessage) (*Job, error) {
	if params == nil {
		params = json.RawMessage("{}")
	}

	row := db.pool.QueryRow(ctx,
		`INSERT INTO jobs (tenant_id, job_type, status, params)
		 VALUES ($1, $2, 'pending', $3)
		 RETURNING `+jobColumns,
		tenantID, jobType, params,
	)
	job, err := scanJob(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrActiveJobExists
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// MarkJobRunning transitions a pending job to running and stamps started_at.
// Returns false if the job is no longer pending (already started, finalized,
// or deleted), which callers must treat as a lost race, not an error.
func (db *DB) MarkJobRunning(ctx context.Context, jobID uuid.UUID) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs SET status = 'running', started_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		jobID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark job running: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateJobProgress records the latest stage and percent for a running job.
// GREATEST keeps progress monotonically non-decreasing even if a late write
// lands after a newer one. Only the progress columns are touched, so a
// concurrent cancel-flag write can never be lost.
func (db *DB) UpdateJobProgress(ctx context.Context, jobID uuid.UUID, percent int, stage string) error {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	_, err := db.pool.Exec(ctx,
		`UPDATE jobs
		 SET progress_percent = GREATEST(progress_percent, $2), current_stage = $3
		 WHERE id = $1 AND status = 'running'`,
		jobID, percent, stage,
	)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// FinalizeJob moves a job to a terminal status exactly once. The WHERE
// clause only matches non-terminal rows, so a second finalization attempt
// returns false instead of overwriting the first outcome. result is stored
// only for completed jobs; errMsg only for failed ones.
func (db *DB) FinalizeJob(ctx context.Context, jobID uuid.UUID, status string, result json.RawMessage, errMsg string) (bool, error) {
	if !TerminalStatus(status) {
		return false, fmt.Errorf("finalize requires a terminal status, got %q", status)
	}

	var resultArg any
	if status == JobStatusCompleted && result != nil {
		resultArg = result
	}
	var errArg any
	if status == JobStatusFailed && errMsg != "" {
		errArg = errMsg
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs
		 SET status = $2, result = $3, error_message = $4, completed_at = NOW(),
		     progress_percent = CASE WHEN $2 = 'completed' THEN 100 ELSE progress_percent END
		 WHERE id = $1 AND status IN ('pending', 'running')`,
		jobID, status, resultArg, errArg,
	)
	if err != nil {
		return false, fmt.Errorf("failed to finalize job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RequestJobCancel sets the cancellation flag on an active job.
// Returns false if the job is not pending/running. The flag write touches
// no other columns; the pipeline observes it cooperatively.
func (db *DB) RequestJobCancel(ctx context.Context, jobID uuid.UUID) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs SET cancel_requested = TRUE
		 WHERE id = $1 AND status IN ('pending', 'running')`,
		jobID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to request job cancel: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// JobCancelRequested reads the cancellation flag for a job.
func (db *DB) JobCancelRequested(ctx context.Context, jobID uuid.UUID) (bool, error) {
	var requested bool
	err := db.pool.QueryRow(ctx,
		`SELECT cancel_requested FROM jobs WHERE id = $1`, jobID,
	).Scan(&requested)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return requested, nil
}

// GetJob retrieves a job by ID. Returns (nil, nil) if not found.
func (db *DB) GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	job, err := scanJob(db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// CurrentJob returns the active (pending or running) job for a tenant and
// type, or (nil, nil) if there is none. The single-flight index guarantees
// at most one row can match.
func (db *DB) CurrentJob(ctx context.Context, tenantID uuid.UUID, jobType string) (*Job, error) {
	job, err := scanJob(db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE tenant_id = $1 AND job_type = $2 AND status IN ('pending', 'running')`,
		tenantID, jobType,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get current job: %w", err)
	}
	return job, nil
}

// ListJobs retrieves jobs matching the filters, newest first.
func (db *DB) ListJobs(ctx context.Context, filters JobFilters) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}
	argPos := 1

	if filters.TenantID != nil {
		query += fmt.Sprintf(" AND tenant_id = $%d", argPos)
		args = append(args, *filters.TenantID)
		argPos++
	}
	if filters.Type != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argPos)
		args = append(args, filters.Type)
		argPos++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, filters.Status)
		argPos++
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, (page-1)*limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// DeleteJob removes a non-running job. Returns false if no row was deleted
// (job missing or still running); callers distinguish the two via GetJob.
func (db *DB) DeleteJob(ctx context.Context, jobID uuid.UUID) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM jobs WHERE id = $1 AND status != 'running'`, jobID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteJobsOlderThan removes terminal jobs whose creation is older than the
// given number of days and returns how many were deleted. Active jobs are
// never touched.
func (db *DB) DeleteJobsOlderThan(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, fmt.Errorf("days must be non-negative")
	}
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM jobs
		 WHERE status IN ('completed', 'failed', 'cancelled')
		   AND created_at < NOW() - ($1 * INTERVAL '1 day')`,
		days,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FailStaleActive marks every pending/running job as failed with the given
// message. Called once at process start: progress lives in memory while a
// job runs, so a job left active by a crashed process can never complete
// and must not block the single-flight slot.
func (db *DB) FailStaleActive(ctx context.Context, message string) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs
		 SET status = 'failed', error_message = $1, completed_at = NOW()
		 WHERE status IN ('pending', 'running')`,
		message,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
