package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/northcloud/jobforge/internal/database"
	"github.com/northcloud/jobforge/internal/logger"
)

func TestClassifyHealth(t *testing.T) {
	cases := []struct {
		failures int
		want     string
	}{
		{0, statusHealthy},
		{1, statusHealthy},
		{unhealthyThreshold - 1, statusHealthy},
		{unhealthyThreshold, statusWarning},
		{alertThreshold - 1, statusWarning},
		{alertThreshold, statusCritical},
		{alertThreshold + 10, statusCritical},
	}
	for _, c := range cases {
		require.Equal(t, c.want, classifyHealth(c.failures), "failures=%d", c.failures)
	}
}

func TestSeverityOf(t *testing.T) {
	require.Equal(t, "critical", severityOf(statusCritical))
	require.Equal(t, "warning", severityOf(statusWarning))
	require.Equal(t, "", severityOf(statusHealthy))
	require.Equal(t, "", severityOf(statusUnknown))
}

func newMonitorFixture(t *testing.T) (*Monitor, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(mockDB, "postgres")
	repos := database.NewRepositoryHealthRepository(db)
	m := NewMonitor(logger.NewNop(), repos, 3, 6)
	return m, mock, func() { mockDB.Close() }
}

var healthColumnsForTest = []string{"repository_name", "status", "consecutive_failures",
	"last_sync_at", "last_sync_duration_ms", "last_error", "updated_at"}

func healthRow(name, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(healthColumnsForTest).AddRow(name, status, 0, now, int64(10), "", now)
}

func TestMonitorStatusUnknownWhenNeverSynced(t *testing.T) {
	m, mock, cleanup := newMonitorFixture(t)
	defer cleanup()

	mock.ExpectQuery("FROM repository_health WHERE repository_name").
		WithArgs("never-synced").
		WillReturnError(errors.New("no rows"))

	status, err := m.Status(context.Background(), "never-synced")
	require.NoError(t, err)
	require.Equal(t, statusUnknown, status)
}

func TestMonitorStatusReturnsRecordedStatus(t *testing.T) {
	m, mock, cleanup := newMonitorFixture(t)
	defer cleanup()

	mock.ExpectQuery("FROM repository_health WHERE repository_name").
		WithArgs("repo-a").
		WillReturnRows(healthRow("repo-a", statusWarning))

	status, err := m.Status(context.Background(), "repo-a")
	require.NoError(t, err)
	require.Equal(t, statusWarning, status)
}

func TestMonitorSnapshotSurfacesNewAlertsOnce(t *testing.T) {
	m, mock, cleanup := newMonitorFixture(t)
	defer cleanup()

	mock.ExpectQuery("FROM repository_health$").
		WillReturnRows(healthRow("repo-a", statusCritical))
	alerts, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, "repo-a", alerts[0].Repository)
	require.Equal(t, "critical", alerts[0].Severity)

	mock.ExpectQuery("FROM repository_health$").
		WillReturnRows(healthRow("repo-a", statusCritical))
	alerts, err = m.Snapshot(context.Background())
	require.NoError(t, err)
	require.Empty(t, alerts, "an already-alerted (repository, severity) pair must be suppressed")
}

func TestMonitorSnapshotClearsAlertOnRecovery(t *testing.T) {
	m, mock, cleanup := newMonitorFixture(t)
	defer cleanup()

	mock.ExpectQuery("FROM repository_health$").
		WillReturnRows(healthRow("repo-a", statusWarning))
	_, err := m.Snapshot(context.Background())
	require.NoError(t, err)

	mock.ExpectQuery("FROM repository_health$").
		WillReturnRows(healthRow("repo-a", statusHealthy))
	alerts, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	require.Empty(t, alerts)

	mock.ExpectQuery("FROM repository_health$").
		WillReturnRows(healthRow("repo-a", statusWarning))
	alerts, err = m.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1, "recovery must clear the dedup entry so the same severity can re-alert")
}
