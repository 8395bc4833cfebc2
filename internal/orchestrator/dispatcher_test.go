package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/northcloud/jobforge/internal/database"
	"github.com/northcloud/jobforge/internal/domain"
	"github.com/northcloud/jobforge/internal/logger"
)

type fakeDeliverer struct {
	calls int
	last  *domain.Execution
}

func (f *fakeDeliverer) Deliver(ctx context.Context, exec *domain.Execution, destinations domain.DestinationList) {
	f.calls++
	f.last = exec
}

func newDispatcherFixture(t *testing.T) (*Dispatcher, sqlmock.Sqlmock, *WorkerPool, *fakeDeliverer, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(mockDB, "postgres")

	jobs := database.NewJobRepository(db)
	tasks := database.NewTaskRepository(db)
	executions := database.NewExecutionRepository(db)
	pool := NewWorkerPool(logger.NewNop())
	deliverer := &fakeDeliverer{}

	d := NewDispatcher(logger.NewNop(), jobs, tasks, executions, pool, deliverer)
	return d, mock, pool, deliverer, func() { mockDB.Close() }
}

var taskColumnsForTest = []string{"id", "uuid", "version", "name", "description",
	"script_source", "input_schema", "output_schema", "metadata", "enabled",
	"registry_source", "content_hash", "registry_repository", "registry_path",
	"created_at", "updated_at"}

func taskRow(id int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(taskColumnsForTest).AddRow(
		id, "task-uuid", "1.0.0", "greet", "",
		"function handle(input){return input}", []byte(`{}`), []byte(`{}`), nil, true,
		false, "", "", "",
		now, now,
	)
}

func TestDispatcherRunCompletesExecutionOnSuccess(t *testing.T) {
	d, mock, pool, deliverer, cleanup := newDispatcherFixture(t)
	defer cleanup()

	w := newFakeWorker("w1")
	w.result = ExecutionResult{Output: domain.RawJSON(`{"ok":true}`)}
	pool.Register(w)

	job := &domain.Job{ID: 1, TaskID: 10, Status: domain.JobProcessing, Input: domain.RawJSON(`{}`),
		CorrelationID: "corr-1", RetryCount: 0, MaxRetries: 3}

	mock.ExpectQuery("FROM tasks WHERE id").
		WithArgs(int64(10)).
		WillReturnRows(taskRow(10))
	mock.ExpectQuery("INSERT INTO executions").
		WithArgs(sqlmock.AnyArg(), job.ID, int64(10), "corr-1", job.Input, domain.ExecutionPending, 0, 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "queued_at"}).AddRow(100, time.Now()))
	mock.ExpectExec("UPDATE executions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE executions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	d.run(context.Background(), job)

	require.NoError(t, mock.ExpectationsWereMet())
	require.Equal(t, 1, deliverer.calls)
	require.Equal(t, domain.ExecutionCompleted, deliverer.last.Status)
}

func TestDispatcherRunRetriesOnRetriableScriptError(t *testing.T) {
	d, mock, pool, deliverer, cleanup := newDispatcherFixture(t)
	defer cleanup()

	w := newFakeWorker("w1")
	w.result = ExecutionResult{Err: domain.NewError(domain.KindTransportError, "network blip", nil)}
	pool.Register(w)

	job := &domain.Job{ID: 2, TaskID: 10, Status: domain.JobProcessing, Input: domain.RawJSON(`{}`),
		CorrelationID: "corr-2", RetryCount: 0, MaxRetries: 3}

	mock.ExpectQuery("FROM tasks WHERE id").
		WithArgs(int64(10)).
		WillReturnRows(taskRow(10))
	mock.ExpectQuery("INSERT INTO executions").
		WithArgs(sqlmock.AnyArg(), job.ID, int64(10), "corr-2", job.Input, domain.ExecutionPending, 0, 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "queued_at"}).AddRow(101, time.Now()))
	mock.ExpectExec("UPDATE executions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE jobs SET status = 'retrying'").
		WithArgs(job.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO jobs").
		WillReturnRows(sqlmock.NewRows([]string{"id", "queued_at", "created_at", "updated_at"}).
			AddRow(3, time.Now(), time.Now(), time.Now()))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE executions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	d.run(context.Background(), job)

	require.NoError(t, mock.ExpectationsWereMet())
	require.Zero(t, deliverer.calls)
}

func TestDispatcherRunMarksJobFailedOnUnknownTask(t *testing.T) {
	d, mock, _, _, cleanup := newDispatcherFixture(t)
	defer cleanup()

	job := &domain.Job{ID: 3, TaskID: 999, Status: domain.JobProcessing}

	mock.ExpectQuery("FROM tasks WHERE id").
		WithArgs(int64(999)).
		WillReturnError(errors.New("connection refused"))
	mock.ExpectExec("UPDATE jobs").
		WithArgs(domain.JobFailed, job.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	d.run(context.Background(), job)

	require.NoError(t, mock.ExpectationsWereMet())
}
