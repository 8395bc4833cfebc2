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
)

// ExecutionRepository handles Execution persistence and the aggregate stats
// used by the admin API (§6.1), grounded on crawler's ExecutionRepository.
type ExecutionRepository struct {
	db *sqlx.DB
}

func NewExecutionRepository(db *sqlx.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

const executionColumns = `id, uuid, job_id, task_id, correlation_id, input, output,
	status, error_message, error_details, queued_at, started_at, completed_at,
	duration_ms, worker_id, retry_count, max_retries, recording_path`

func (r *ExecutionRepository) Create(ctx context.Context, e *domain.Execution) error {
	if e.UUID == "" {
		e.UUID = uuid.NewString()
	}
	query := `
		INSERT INTO executions (uuid, job_id, task_id, correlation_id, input,
			status, queued_at, retry_count, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, now(), $7, $8)
		RETURNING id, queued_at`
	row := r.db.QueryRowContext(ctx, query,
		e.UUID, e.JobID, e.TaskID, e.CorrelationID, e.Input,
		e.Status, e.RetryCount, e.MaxRetries)
	if err := row.Scan(&e.ID, &e.QueuedAt); err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func (r *ExecutionRepository) GetByUUID(ctx context.Context, id string) (*domain.Execution, error) {
	var e domain.Execution
	query := `SELECT ` + executionColumns + ` FROM executions WHERE uuid = $1`
	if err := r.db.GetContext(ctx, &e, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewError(domain.KindNotFound, "execution not found: "+id, err)
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return &e, nil
}

// UpdateState persists status, timestamps, output/error and is the only
// mutation path for an Execution after Create — enforcing §4.1.3's state
// machine is the orchestrator's job, not this repository's.
func (r *ExecutionRepository) UpdateState(ctx context.Context, e *domain.Execution) error {
	query := `
		UPDATE executions SET
			status = $1, output = $2, error_message = $3, error_details = $4,
			started_at = $5, completed_at = $6, duration_ms = $7, worker_id = $8,
			retry_count = $9, recording_path = $10
		WHERE id = $11`
	result, err := r.db.ExecContext(ctx, query,
		e.Status, e.Output, e.ErrorMessage, e.ErrorDetails,
		e.StartedAt, e.CompletedAt, e.DurationMs, e.WorkerID,
		e.RetryCount, e.RecordingPath, e.ID)
	if err != nil {
		return fmt.Errorf("update execution state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NewError(domain.KindNotFound, fmt.Sprintf("execution not found: %d", e.ID), nil)
	}
	return nil
}

func (r *ExecutionRepository) ListByJobID(ctx context.Context, jobID int64, page, pageSize int) ([]*domain.Execution, error) {
	if page < 1 {
		page = 1
	}
	var executions []*domain.Execution
	query := `SELECT ` + executionColumns + ` FROM executions WHERE job_id = $1
		ORDER BY queued_at DESC LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &executions, query, jobID, pageSize, (page-1)*pageSize); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return executions, nil
}

// ExecutionFilter narrows List (§6.1: "filters by task_id, status, job_id, time ranges").
type ExecutionFilter struct {
	TaskID   int64
	JobID    int64
	Status   domain.ExecutionStatus
	Since    *time.Time
	Until    *time.Time
}

// List returns executions matching filter, newest first.
func (r *ExecutionRepository) List(ctx context.Context, filter ExecutionFilter, page, pageSize int) ([]*domain.Execution, error) {
	if page < 1 {
		page = 1
	}
	query := `SELECT ` + executionColumns + ` FROM executions WHERE 1=1`
	args := []any{}
	if filter.TaskID != 0 {
		args = append(args, filter.TaskID)
		query += fmt.Sprintf(" AND task_id = $%d", len(args))
	}
	if filter.JobID != 0 {
		args = append(args, filter.JobID)
		query += fmt.Sprintf(" AND job_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += fmt.Sprintf(" AND queued_at >= $%d", len(args))
	}
	if filter.Until != nil {
		args = append(args, *filter.Until)
		query += fmt.Sprintf(" AND queued_at <= $%d", len(args))
	}
	args = append(args, pageSize, (page-1)*pageSize)
	query += fmt.Sprintf(" ORDER BY queued_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var executions []*domain.Execution
	if err := r.db.SelectContext(ctx, &executions, query, args...); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return executions, nil
}

// Cancel marks a non-terminal execution Cancelled, matching S5's invariant
// that cancellation produces no DeliveryResult rows.
func (r *ExecutionRepository) Cancel(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE executions SET status = 'cancelled', completed_at = now()
		WHERE id = $1 AND status IN ('pending','running','retrying')`, id)
	if err != nil {
		return fmt.Errorf("cancel execution: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NewError(domain.KindConflict, fmt.Sprintf("execution %d not cancellable", id), nil)
	}
	return nil
}

// AggregateStats summarizes system-wide execution outcomes for the admin API.
type AggregateStats struct {
	TotalExecutions int64   `db:"total_executions"`
	AvgDurationMs   float64 `db:"avg_duration_ms"`
	SuccessRate     float64 `db:"success_rate"`
	FailureRate     float64 `db:"failure_rate"`
}

func (r *ExecutionRepository) GetAggregateStats(ctx context.Context, window time.Duration) (*AggregateStats, error) {
	query := `
		SELECT
			COUNT(*) AS total_executions,
			COALESCE(AVG(duration_ms) FILTER (WHERE duration_ms IS NOT NULL), 0) AS avg_duration_ms,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed
		FROM executions
		WHERE queued_at >= now() - $1::interval`

	var stats AggregateStats
	var completed, failed int64
	err := r.db.QueryRowContext(ctx, query, window.String()).Scan(
		&stats.TotalExecutions, &stats.AvgDurationMs, &completed, &failed)
	if err != nil {
		return nil, fmt.Errorf("get aggregate stats: %w", err)
	}
	if total := completed + failed; total > 0 {
		stats.SuccessRate = float64(completed) / float64(total)
		stats.FailureRate = float64(failed) / float64(total)
	}
	return &stats, nil
}
