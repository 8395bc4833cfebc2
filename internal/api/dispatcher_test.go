package api

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/northcloud/jobforge/internal/database"
	"github.com/northcloud/jobforge/internal/session"
)

func newDispatcherFixture(t *testing.T) (*Dispatcher, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(mockDB, "postgres")
	svc := &Services{
		Tasks: database.NewTaskRepository(db),
		Jobs:  database.NewJobRepository(db),
	}
	return NewDispatcher(svc), mock, func() { mockDB.Close() }
}

func TestDispatcherUnknownMethodReturnsMethodNotFound(t *testing.T) {
	d, _, cleanup := newDispatcherFixture(t)
	defer cleanup()

	resp := d.Handle(context.Background(), "sess-1", &session.Request{JSONRPC: "2.0", ID: 1, Method: "bogus"})
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	require.Equal(t, session.CodeMethodNotFound, resp.Error.Code)
}

func TestDispatcherUnknownMethodAsNotificationReturnsNil(t *testing.T) {
	d, _, cleanup := newDispatcherFixture(t)
	defer cleanup()

	resp := d.Handle(context.Background(), "sess-1", &session.Request{JSONRPC: "2.0", Method: "bogus"})
	require.Nil(t, resp)
}

func TestDispatcherHandleExecuteTaskInvalidParams(t *testing.T) {
	d, _, cleanup := newDispatcherFixture(t)
	defer cleanup()

	resp := d.Handle(context.Background(), "sess-1", &session.Request{
		JSONRPC: "2.0", ID: 1, Method: "execute_task", Params: json.RawMessage(`not json`),
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, session.CodeApplicationError, resp.Error.Code)
}

func TestDispatcherHandleExecuteTaskLookupErrorReturnsApplicationError(t *testing.T) {
	d, mock, cleanup := newDispatcherFixture(t)
	defer cleanup()

	mock.ExpectQuery("FROM tasks WHERE uuid").
		WithArgs("missing").
		WillReturnError(errors.New("connection refused"))

	params, err := json.Marshal(map[string]any{"task_uuid": "missing", "input": map[string]any{}})
	require.NoError(t, err)

	resp := d.Handle(context.Background(), "sess-1", &session.Request{
		JSONRPC: "2.0", ID: 1, Method: "execute_task", Params: params,
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, session.CodeApplicationError, resp.Error.Code)
}

func TestDispatcherHandleExecuteTaskEnqueuesJob(t *testing.T) {
	d, mock, cleanup := newDispatcherFixture(t)
	defer cleanup()

	now := time.Now()
	taskCols := []string{"id", "uuid", "version", "name", "description", "script_source",
		"input_schema", "output_schema", "metadata", "enabled", "registry_source",
		"content_hash", "registry_repository", "registry_path", "created_at", "updated_at"}
	mock.ExpectQuery("FROM tasks WHERE uuid").
		WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows(taskCols).AddRow(
			1, "t-1", "1.0.0", "demo", "", "function main(i){return i}",
			[]byte(`{}`), []byte(`{}`), []byte(`{}`), true, false,
			"", "", "", now, now,
		))
	mock.ExpectQuery("INSERT INTO jobs").
		WillReturnRows(sqlmock.NewRows([]string{"id", "queued_at", "created_at", "updated_at"}).
			AddRow(1, now, now, now))

	params, err := json.Marshal(map[string]any{"task_uuid": "t-1", "input": map[string]any{}})
	require.NoError(t, err)

	resp := d.Handle(context.Background(), "sess-1", &session.Request{
		JSONRPC: "2.0", ID: 1, Method: "execute_task", Params: params,
	})
	require.Nil(t, resp.Error)
	require.Contains(t, string(resp.Result), `"task_id":1`)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatcherHandleCancelJobLookupErrorReturnsError(t *testing.T) {
	d, mock, cleanup := newDispatcherFixture(t)
	defer cleanup()

	mock.ExpectQuery("FROM jobs WHERE uuid").
		WithArgs("missing").
		WillReturnError(errors.New("connection refused"))

	params, err := json.Marshal(map[string]any{"uuid": "missing"})
	require.NoError(t, err)

	resp := d.Handle(context.Background(), "sess-1", &session.Request{
		JSONRPC: "2.0", ID: 1, Method: "cancel_job", Params: params,
	})
	require.NotNil(t, resp.Error)
}
