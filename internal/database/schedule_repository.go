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

// ScheduleRepository handles Schedule persistence, grounded on
// crawler/internal/job/db_scheduler.go's claim-by-due-time pattern.
type ScheduleRepository struct {
	db *sqlx.DB
}

func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

const scheduleColumns = `id, uuid, task_id, cron_expression, timezone, enabled,
	next_run_at, last_run_at, input_template, output_destinations, missed_runs,
	created_at, updated_at`

func (r *ScheduleRepository) Create(ctx context.Context, s *domain.Schedule) error {
	if s.UUID == "" {
		s.UUID = uuid.NewString()
	}
	query := `
		INSERT INTO schedules (uuid, task_id, cron_expression, timezone, enabled,
			next_run_at, input_template, output_destinations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`
	row := r.db.QueryRowContext(ctx, query,
		s.UUID, s.TaskID, s.CronExpression, s.Timezone, s.Enabled,
		s.NextRunAt, s.InputTemplate, s.OutputDestinations)
	if err := row.Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

func (r *ScheduleRepository) GetByUUID(ctx context.Context, id string) (*domain.Schedule, error) {
	var s domain.Schedule
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE uuid = $1`
	if err := r.db.GetContext(ctx, &s, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewError(domain.KindNotFound, "schedule not found: "+id, err)
		}
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return &s, nil
}

// DueForTick selects schedules whose next_run_at has passed, skipping rows
// another transaction holds locked (FOR UPDATE SKIP LOCKED). The query runs
// outside a transaction, so its row locks end with the statement; they do
// not stop a second scheduler instance from selecting the same schedule
// before RecordFired advances it.
func (r *ScheduleRepository) DueForTick(ctx context.Context, now time.Time, limit int) ([]*domain.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE enabled = true AND next_run_at <= $1
		ORDER BY next_run_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`
	var schedules []*domain.Schedule
	if err := r.db.SelectContext(ctx, &schedules, query, now, limit); err != nil {
		return nil, fmt.Errorf("select due schedules: %w", err)
	}
	return schedules, nil
}

// RecordFired advances next_run_at after a schedule fires and stores
// missedRuns, the schedule's running count of skipped periods (see
// DESIGN.md's resolution of the "missed tick" Open Question).
func (r *ScheduleRepository) RecordFired(ctx context.Context, id int64, firedAt, nextRunAt time.Time, missedRuns int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE schedules
		SET last_run_at = $1, next_run_at = $2, missed_runs = $3, updated_at = now()
		WHERE id = $4`, firedAt, nextRunAt, missedRuns, id)
	if err != nil {
		return fmt.Errorf("record schedule fired: %w", err)
	}
	return nil
}

func (r *ScheduleRepository) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE schedules SET enabled = $1, updated_at = now() WHERE id = $2`, enabled, id)
	if err != nil {
		return fmt.Errorf("set schedule enabled: %w", err)
	}
	return nil
}

// Update persists the editable fields of a Schedule (CRUD per §6.1); it
// never touches next_run_at/last_run_at/missed_runs, which only the
// scheduler tick owns.
func (r *ScheduleRepository) Update(ctx context.Context, s *domain.Schedule) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET
			cron_expression = $1, timezone = $2, input_template = $3,
			output_destinations = $4, updated_at = now()
		WHERE uuid = $5`,
		s.CronExpression, s.Timezone, s.InputTemplate, s.OutputDestinations, s.UUID)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NewError(domain.KindNotFound, "schedule not found: "+s.UUID, nil)
	}
	return nil
}

func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE uuid = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NewError(domain.KindNotFound, "schedule not found: "+id, nil)
	}
	return nil
}

func (r *ScheduleRepository) List(ctx context.Context, page, pageSize int) ([]*domain.Schedule, error) {
	if page < 1 {
		page = 1
	}
	var schedules []*domain.Schedule
	query := `SELECT ` + scheduleColumns + ` FROM schedules ORDER BY id ASC LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &schedules, query, pageSize, (page-1)*pageSize); err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return schedules, nil
}
