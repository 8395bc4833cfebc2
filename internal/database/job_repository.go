package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/northcloud/jobforge/internal/domain"
	"github.com/northcloud/jobforge/internal/retry"
)

// defaultJobRetryPolicy backs a Job's retry backoff when its Task has never
// had a RetryPolicy configured (the zero value), matching the same fallback
// shape delivery's pipeline.go uses for an unconfigured destination policy.
var defaultJobRetryPolicy = domain.RetryPolicy{
	MaxAttempts:       3,
	InitialDelay:      time.Second,
	MaxDelay:          30 * time.Second,
	BackoffMultiplier: 2,
	Jitter:            true,
}

// JobRepository handles Job queue persistence, including the atomic dispatch
// claim (§4.1.1) grounded on publisher's outbox_repository.go FOR UPDATE
// SKIP LOCKED pattern.
type JobRepository struct {
	db *sqlx.DB
}

func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, uuid, task_id, input, priority, status,
	scheduled_for, schedule_id, retry_count, max_retries, output_destinations,
	correlation_id, lease_id, queued_at, created_at, updated_at`

// CountQueued returns the number of jobs currently in the Queued state, for
// enforcing the §5 back-pressure soft ceiling before Enqueue.
func (r *JobRepository) CountQueued(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM jobs WHERE status = 'queued'`); err != nil {
		return 0, fmt.Errorf("count queued jobs: %w", err)
	}
	return n, nil
}

func (r *JobRepository) Enqueue(ctx context.Context, j *domain.Job) error {
	if j.UUID == "" {
		j.UUID = uuid.NewString()
	}
	if j.CorrelationID == "" {
		j.CorrelationID = uuid.NewString()
	}

	query := `
		INSERT INTO jobs (uuid, task_id, input, priority, status, scheduled_for,
			schedule_id, retry_count, max_retries, output_destinations, correlation_id, queued_at)
		VALUES ($1, $2, $3, $4, 'queued', $5, $6, $7, $8, $9, $10, now())
		RETURNING id, queued_at, created_at, updated_at`

	row := r.db.QueryRowContext(ctx, query,
		j.UUID, j.TaskID, j.Input, int(j.Priority), j.ScheduledFor, j.ScheduleID,
		j.RetryCount, j.MaxRetries, j.OutputDestinations, j.CorrelationID)
	if err := row.Scan(&j.ID, &j.QueuedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	j.Status = domain.JobQueued
	return nil
}

// ClaimNext atomically selects and leases up to limit dispatchable jobs,
// highest priority and oldest first, skipping rows already locked by another
// worker's concurrent claim. leaseID marks ownership for crash recovery.
func (r *JobRepository) ClaimNext(ctx context.Context, limit int, leaseID string) ([]*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = 'processing', lease_id = $2, updated_at = now()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'queued'
			  AND (scheduled_for IS NULL OR scheduled_for <= now())
			ORDER BY priority DESC, queued_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := r.db.QueryxContext(ctx, query, limit, leaseID)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		var j domain.Job
		if err := rows.StructScan(&j); err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) GetByUUID(ctx context.Context, id string) (*domain.Job, error) {
	var j domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE uuid = $1`
	if err := r.db.GetContext(ctx, &j, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewError(domain.KindNotFound, "job not found: "+id, err)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

func (r *JobRepository) MarkStatus(ctx context.Context, id int64, status domain.JobStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("mark job status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NewError(domain.KindNotFound, fmt.Sprintf("job not found: %d", id), nil)
	}
	return nil
}

// Retry implements §4.1.3's retry semantics: "Retry creates a new Job with
// retry_count+1, scheduled_for = now + backoff, same correlation_id. The
// prior Execution is terminal; the new Execution is a distinct row linked by
// correlation_id." job is the prior, now-terminal Job; policy is its task's
// per-task backoff parameterization (the zero value falls back to
// defaultJobRetryPolicy). Returns the newly created Job.
func (r *JobRepository) Retry(ctx context.Context, job *domain.Job, policy domain.RetryPolicy) (*domain.Job, error) {
	if policy.MaxAttempts == 0 && policy.InitialDelay == 0 {
		policy = defaultJobRetryPolicy
	}
	backoff := retry.BackoffDelay(policy, job.RetryCount+1)
	scheduledFor := time.Now().Add(backoff)

	next := &domain.Job{
		TaskID:             job.TaskID,
		Input:              job.Input,
		Priority:           job.Priority,
		ScheduledFor:       &scheduledFor,
		ScheduleID:         job.ScheduleID,
		RetryCount:         job.RetryCount + 1,
		MaxRetries:         job.MaxRetries,
		OutputDestinations: job.OutputDestinations,
		CorrelationID:      job.CorrelationID,
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("retry job: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = 'retrying', lease_id = NULL, updated_at = now() WHERE id = $1`,
		job.ID); err != nil {
		return nil, fmt.Errorf("mark prior job retrying: %w", err)
	}

	next.UUID = uuid.NewString()
	query := `
		INSERT INTO jobs (uuid, task_id, input, priority, status, scheduled_for,
			schedule_id, retry_count, max_retries, output_destinations, correlation_id, queued_at)
		VALUES ($1, $2, $3, $4, 'queued', $5, $6, $7, $8, $9, $10, now())
		RETURNING id, queued_at, created_at, updated_at`
	row := tx.QueryRowContext(ctx, query,
		next.UUID, next.TaskID, next.Input, int(next.Priority), next.ScheduledFor, next.ScheduleID,
		next.RetryCount, next.MaxRetries, next.OutputDestinations, next.CorrelationID)
	if err := row.Scan(&next.ID, &next.QueuedAt, &next.CreatedAt, &next.UpdatedAt); err != nil {
		return nil, fmt.Errorf("enqueue retried job: %w", err)
	}
	next.Status = domain.JobQueued

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("retry job: commit: %w", err)
	}
	return next, nil
}

// Cancel marks a job cancelled; idempotent on an already-terminal job.
func (r *JobRepository) Cancel(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'cancelled', updated_at = now() WHERE id = $1 AND status IN ('queued','processing','retrying')`, id)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	return nil
}

// JobFilter narrows List (§6.1: "filters by status, priority, task_id, schedule_id").
type JobFilter struct {
	Status     domain.JobStatus
	TaskID     int64
	ScheduleID int64
}

// List returns jobs matching filter, newest first, 1-based page/pageSize.
func (r *JobRepository) List(ctx context.Context, filter JobFilter, page, pageSize int) ([]*domain.Job, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.TaskID != 0 {
		args = append(args, filter.TaskID)
		query += fmt.Sprintf(" AND task_id = $%d", len(args))
	}
	if filter.ScheduleID != 0 {
		args = append(args, filter.ScheduleID)
		query += fmt.Sprintf(" AND schedule_id = $%d", len(args))
	}
	args = append(args, pageSize, offset)
	query += fmt.Sprintf(" ORDER BY queued_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var jobs []*domain.Job
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// ResetStale reclaims jobs leased by a worker that crashed before completing,
// returning them to queued so another worker can pick them up.
func (r *JobRepository) ResetStale(ctx context.Context, staleAfterSeconds int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'queued', lease_id = NULL, updated_at = now()
		WHERE status = 'processing'
		  AND updated_at < now() - ($1 || ' seconds')::interval`, staleAfterSeconds)
	if err != nil {
		return 0, fmt.Errorf("reset stale jobs: %w", err)
	}
	return result.RowsAffected()
}
