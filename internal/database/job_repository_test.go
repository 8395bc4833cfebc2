package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/northcloud/jobforge/internal/database"
	"github.com/northcloud/jobforge/internal/domain"
)

func newJobRepo(t *testing.T) (*database.JobRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(mockDB, "postgres")
	return database.NewJobRepository(db), mock, func() { mockDB.Close() }
}

var jobColumns = []string{"id", "uuid", "task_id", "input", "priority", "status",
	"scheduled_for", "schedule_id", "retry_count", "max_retries", "output_destinations",
	"correlation_id", "lease_id", "queued_at", "created_at", "updated_at"}

func TestJobRepository_ClaimNext_SkipsLockedRows(t *testing.T) {
	repo, mock, cleanup := newJobRepo(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("UPDATE jobs").
		WithArgs(5, "lease-1").
		WillReturnRows(sqlmock.NewRows(jobColumns).AddRow(
			1, "job-1", 10, []byte(`{}`), 1, "processing",
			nil, nil, 0, 3, []byte(`[]`),
			"corr-1", "lease-1", now, now, now,
		))

	jobs, err := repo.ClaimNext(context.Background(), 5, "lease-1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "corr-1", jobs[0].CorrelationID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_Retry_PreservesCorrelationID(t *testing.T) {
	repo, mock, cleanup := newJobRepo(t)
	defer cleanup()

	now := time.Now()
	prior := &domain.Job{ID: 42, TaskID: 10, CorrelationID: "corr-1", RetryCount: 0, MaxRetries: 3}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE jobs SET status = 'retrying'").
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO jobs").
		WillReturnRows(sqlmock.NewRows([]string{"id", "queued_at", "created_at", "updated_at"}).
			AddRow(43, now, now, now))
	mock.ExpectCommit()

	next, err := repo.Retry(context.Background(), prior, domain.RetryPolicy{})
	require.NoError(t, err)
	require.Equal(t, "corr-1", next.CorrelationID)
	require.Equal(t, 1, next.RetryCount)
	require.NoError(t, mock.ExpectationsWereMet())
}
