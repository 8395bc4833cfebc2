package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/northcloud/jobforge/internal/database"
	"github.com/northcloud/jobforge/internal/logger"
)

var scheduleColumnsForTest = []string{"id", "uuid", "task_id", "cron_expression", "timezone",
	"enabled", "next_run_at", "last_run_at", "input_template", "output_destinations",
	"missed_runs", "created_at", "updated_at"}

func newSchedulerFixture(t *testing.T) (*Scheduler, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(mockDB, "postgres")

	schedules := database.NewScheduleRepository(db)
	jobs := database.NewJobRepository(db)
	s := NewScheduler(logger.NewNop(), schedules, jobs)
	return s, mock, func() { mockDB.Close() }
}

func scheduleRow(id int64, cronExpr string, lastRun *time.Time) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(scheduleColumnsForTest).AddRow(
		id, "sched-uuid", 10, cronExpr, "UTC",
		true, now, lastRun, []byte(`{}`), []byte(`[]`),
		0, now, now,
	)
}

func TestSchedulerTickFiresDueScheduleAndEnqueuesJob(t *testing.T) {
	s, mock, cleanup := newSchedulerFixture(t)
	defer cleanup()

	mock.ExpectQuery("FROM schedules").
		WillReturnRows(scheduleRow(1, "* * * * *", nil))
	mock.ExpectQuery("INSERT INTO jobs").
		WithArgs(sqlmock.AnyArg(), int64(10), []byte("{}"), 1, sqlmock.AnyArg(), sqlmock.AnyArg(),
			0, 0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "queued_at", "created_at", "updated_at"}).
			AddRow(1, time.Now(), time.Now(), time.Now()))
	mock.ExpectExec("UPDATE schedules").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.tick(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulerTickWithNoDueSchedulesIsANoOp(t *testing.T) {
	s, mock, cleanup := newSchedulerFixture(t)
	defer cleanup()

	mock.ExpectQuery("FROM schedules").
		WillReturnRows(sqlmock.NewRows(scheduleColumnsForTest))

	require.NoError(t, s.tick(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedulerTickSkipsScheduleWithInvalidCronExpression(t *testing.T) {
	s, mock, cleanup := newSchedulerFixture(t)
	defer cleanup()

	mock.ExpectQuery("FROM schedules").
		WillReturnRows(scheduleRow(2, "not-a-cron-expression", nil))

	// fire() fails to parse the cron expression and returns early: no
	// Enqueue or RecordFired call should happen, but tick itself still
	// succeeds since one bad schedule shouldn't abort the whole batch.
	require.NoError(t, s.tick(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
