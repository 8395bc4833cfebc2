package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/northcloud/jobforge/internal/config"
	"github.com/northcloud/jobforge/internal/database"
)

func newJobsFixture(t *testing.T) (*handlers, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(mockDB, "postgres")
	svc := &Services{
		Tasks: database.NewTaskRepository(db),
		Jobs:  database.NewJobRepository(db),
	}
	return &handlers{svc: svc}, mock, func() { mockDB.Close() }
}

func jobRow(uuid string, status string) *sqlmock.Rows {
	now := time.Now()
	cols := []string{"id", "uuid", "task_id", "input", "priority", "status",
		"scheduled_for", "schedule_id", "retry_count", "max_retries", "output_destinations",
		"correlation_id", "lease_id", "queued_at", "created_at", "updated_at"}
	return sqlmock.NewRows(cols).AddRow(
		1, uuid, 1, []byte(`{}`), 1, status,
		nil, nil, 0, 3, []byte(`[]`),
		"", nil, now, now, now,
	)
}

func TestCreateJobRejectsMalformedJSON(t *testing.T) {
	h, _, cleanup := newJobsFixture(t)
	defer cleanup()

	c, w := testContext(http.MethodPost, "/api/v1/jobs", []byte(`not json`))
	h.createJob(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateJobRejectsDisabledTask(t *testing.T) {
	h, mock, cleanup := newJobsFixture(t)
	defer cleanup()

	now := time.Now()
	cols := []string{"id", "uuid", "version", "name", "description", "script_source",
		"input_schema", "output_schema", "metadata", "enabled", "registry_source",
		"content_hash", "registry_repository", "registry_path", "created_at", "updated_at"}
	mock.ExpectQuery("FROM tasks WHERE uuid").
		WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			1, "t-1", "1.0.0", "demo", "", "function main(i){return i}",
			[]byte(`{}`), []byte(`{}`), []byte(`{}`), false, false,
			"", "", "", now, now,
		))

	c, w := testContext(http.MethodPost, "/api/v1/jobs", []byte(`{"task_uuid":"t-1","input":{}}`))
	h.createJob(c)

	require.Equal(t, http.StatusConflict, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobRejectsWhenQueueAtSoftLimit(t *testing.T) {
	h, mock, cleanup := newJobsFixture(t)
	defer cleanup()
	h.svc.ExecCfg = config.ExecutionConfig{QueueSoftLimit: 5}

	now := time.Now()
	cols := []string{"id", "uuid", "version", "name", "description", "script_source",
		"input_schema", "output_schema", "metadata", "enabled", "registry_source",
		"content_hash", "registry_repository", "registry_path", "created_at", "updated_at"}
	mock.ExpectQuery("FROM tasks WHERE uuid").
		WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			1, "t-1", "1.0.0", "demo", "", "function main(i){return i}",
			[]byte(`{}`), []byte(`{}`), []byte(`{}`), true, false,
			"", "", "", now, now,
		))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	c, w := testContext(http.MethodPost, "/api/v1/jobs", []byte(`{"task_uuid":"t-1","input":{}}`))
	h.createJob(c)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobFound(t *testing.T) {
	h, mock, cleanup := newJobsFixture(t)
	defer cleanup()

	mock.ExpectQuery("FROM jobs WHERE uuid").
		WithArgs("j-1").
		WillReturnRows(jobRow("j-1", "queued"))

	c, w := testContext(http.MethodGet, "/api/v1/jobs/j-1", nil)
	c.Params = gin.Params{{Key: "uuid", Value: "j-1"}}
	h.getJob(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"uuid":"j-1"`)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelJobCallsCancelAfterLookup(t *testing.T) {
	h, mock, cleanup := newJobsFixture(t)
	defer cleanup()

	mock.ExpectQuery("FROM jobs WHERE uuid").
		WithArgs("j-1").
		WillReturnRows(jobRow("j-1", "queued"))
	mock.ExpectExec("UPDATE jobs SET status = 'cancelled'").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	c, w := testContext(http.MethodPost, "/api/v1/jobs/j-1/cancel", nil)
	c.Params = gin.Params{{Key: "uuid", Value: "j-1"}}
	h.cancelJob(c)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryJobCallsRetryAfterLookup(t *testing.T) {
	h, mock, cleanup := newJobsFixture(t)
	defer cleanup()

	now := time.Now()
	taskCols := []string{"id", "uuid", "version", "name", "description", "script_source",
		"input_schema", "output_schema", "metadata", "enabled", "registry_source",
		"content_hash", "registry_repository", "registry_path", "retry_policy", "created_at", "updated_at"}

	mock.ExpectQuery("FROM jobs WHERE uuid").
		WithArgs("j-1").
		WillReturnRows(jobRow("j-1", "failed"))
	mock.ExpectQuery("FROM tasks WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(taskCols).AddRow(
			1, "t-1", "1.0.0", "demo", "", "function main(i){return i}",
			[]byte(`{}`), []byte(`{}`), []byte(`{}`), true, false,
			"", "", "", []byte(`{}`), now, now,
		))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE jobs SET status = 'retrying'").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO jobs").
		WillReturnRows(sqlmock.NewRows([]string{"id", "queued_at", "created_at", "updated_at"}).
			AddRow(2, now, now, now))
	mock.ExpectCommit()

	c, w := testContext(http.MethodPost, "/api/v1/jobs/j-1/retry", nil)
	c.Params = gin.Params{{Key: "uuid", Value: "j-1"}}
	h.retryJob(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"retry_count":1`)
	require.NoError(t, mock.ExpectationsWereMet())
}
