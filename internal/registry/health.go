package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/northcloud/jobforge/internal/database"
	"github.com/northcloud/jobforge/internal/logger"
)

// Health states for a repository (§4.5.3). Unknown covers a repository that
// has never completed a sync attempt.
const (
	statusHealthy  = "healthy"
	statusWarning  = "warning"
	statusCritical = "critical"
	statusUnknown  = "unknown"
)

// classifyHealth maps a consecutive-failure count to a health state using
// the configured thresholds: unhealthy_threshold consecutive failures →
// Warning, alert_threshold → Critical. Thresholds are baked into the Syncer
// via RegistryConfig and passed down at construction, mirrored here as
// package-level defaults so SyncOnce can classify without plumbing the
// config through every call; NewMonitor overrides them per deployment.
var (
	unhealthyThreshold = 3
	alertThreshold     = 6
)

func classifyHealth(consecutiveFailures int) string {
	switch {
	case consecutiveFailures == 0:
		return statusHealthy
	case consecutiveFailures >= alertThreshold:
		return statusCritical
	case consecutiveFailures >= unhealthyThreshold:
		return statusWarning
	default:
		return statusHealthy
	}
}

// Severity maps a health status to the alert severity an alert manager
// dedupes on, alongside the repository name (§4.5.3's "(repository_id,
// severity)" key).
func severityOf(status string) string {
	switch status {
	case statusCritical:
		return "critical"
	case statusWarning:
		return "warning"
	default:
		return ""
	}
}

// Alert is one active, deduped health alert.
type Alert struct {
	Repository string
	Severity   string
}

// Monitor computes and exposes per-repository health, and dedupes alerts by
// (repository, severity) the way infrastructure/circuitbreaker dedupes state
// transitions — an alert fires once per (repository, severity) pair and is
// cleared only when the repository recovers or escalates past it.
type Monitor struct {
	log   logger.Logger
	repos *database.RepositoryHealthRepository

	mu     sync.Mutex
	active map[string]string // repository -> last-alerted severity
}

// NewMonitor builds a Monitor, overriding the package-level default
// thresholds used by classifyHealth with the configured ones.
func NewMonitor(log logger.Logger, repos *database.RepositoryHealthRepository, unhealthy, alert int) *Monitor {
	if unhealthy > 0 {
		unhealthyThreshold = unhealthy
	}
	if alert > 0 {
		alertThreshold = alert
	}
	return &Monitor{log: log, repos: repos, active: make(map[string]string)}
}

// Status returns the current health state for one repository, or Unknown if
// it has never synced.
func (m *Monitor) Status(ctx context.Context, repository string) (string, error) {
	row, err := m.repos.Get(ctx, repository)
	if err != nil {
		return statusUnknown, nil //nolint:nilerr // no row yet means Unknown, not an error
	}
	return row.Status, nil
}

// Snapshot reconciles the alert dedup table against current repository_health
// rows, returning the alerts that are newly active this call (i.e. should be
// surfaced to an operator) and suppressing ones already known.
func (m *Monitor) Snapshot(ctx context.Context) ([]Alert, error) {
	rows, err := m.repos.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: snapshot health: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var fresh []Alert
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		seen[row.RepositoryName] = true
		sev := severityOf(row.Status)
		if sev == "" {
			delete(m.active, row.RepositoryName)
			continue
		}
		if m.active[row.RepositoryName] == sev {
			continue
		}
		m.active[row.RepositoryName] = sev
		fresh = append(fresh, Alert{Repository: row.RepositoryName, Severity: sev})
	}
	for name := range m.active {
		if !seen[name] {
			delete(m.active, name)
		}
	}
	return fresh, nil
}
