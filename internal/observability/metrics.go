package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "jobforge"
)

// Metrics holds every Prometheus collector jobforged exposes, grouped by
// subsystem the way crawler/internal/scheduler/v2/observability.Metrics
// does.
type Metrics struct {
	JobsEnqueuedTotal    *prometheus.CounterVec
	JobsDispatchedTotal  *prometheus.CounterVec
	QueueDepth           prometheus.Gauge

	ExecutionsTotal      *prometheus.CounterVec
	ExecutionDuration    *prometheus.HistogramVec
	ExecutionsRunning    prometheus.Gauge

	DeliveryAttemptsTotal *prometheus.CounterVec
	DeliveryDuration      *prometheus.HistogramVec

	SessionsActive    prometheus.Gauge
	SessionEventsTotal *prometheus.CounterVec

	RegistrySyncsTotal  *prometheus.CounterVec
	RegistrySyncSeconds *prometheus.HistogramVec
	RepositoryHealth    *prometheus.GaugeVec

	DegradationState prometheus.Gauge
}

// NewMetrics registers every collector against reg, defaulting to the
// global registry when reg is nil (as promauto.With does).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsEnqueuedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "queue", Name: "jobs_enqueued_total",
			Help: "Total jobs enqueued, by priority.",
		}, []string{"priority"}),
		JobsDispatchedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "queue", Name: "jobs_dispatched_total",
			Help: "Total jobs dispatched to a worker.",
		}, []string{"task_name"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "queue", Name: "depth",
			Help: "Current number of Queued jobs.",
		}),

		ExecutionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "execution", Name: "total",
			Help: "Total Executions, by terminal status.",
		}, []string{"status"}),
		ExecutionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "execution", Name: "duration_seconds",
			Help:    "Execution wall-clock duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task_name"}),
		ExecutionsRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "execution", Name: "running",
			Help: "Current number of Executions in the Running state.",
		}),

		DeliveryAttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "delivery", Name: "attempts_total",
			Help: "Total delivery attempts, by destination kind and outcome.",
		}, []string{"kind", "success"}),
		DeliveryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "delivery", Name: "duration_seconds",
			Help:    "Delivery attempt duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),

		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "session", Name: "active",
			Help: "Current number of live MCP sessions.",
		}),
		SessionEventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "session", Name: "events_total",
			Help: "Total session events appended, by kind.",
		}, []string{"kind"}),

		RegistrySyncsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "registry", Name: "syncs_total",
			Help: "Total registry sync attempts, by repository and outcome.",
		}, []string{"repository", "success"}),
		RegistrySyncSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "registry", Name: "sync_duration_seconds",
			Help:    "Registry sync duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"repository"}),
		RepositoryHealth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "registry", Name: "repository_health",
			Help: "Repository health as an enum gauge (0=unknown,1=healthy,2=warning,3=critical).",
		}, []string{"repository"}),

		DegradationState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "system", Name: "degradation_state",
			Help: "System degradation state (0=normal,1=recovering,2=degraded,3=failed).",
		}),
	}
}

// HealthGaugeValue maps a repository health status string to the enum value
// RepositoryHealth expects.
func HealthGaugeValue(status string) float64 {
	switch status {
	case "healthy":
		return 1
	case "warning":
		return 2
	case "critical":
		return 3
	default:
		return 0
	}
}

// DegradationGaugeValue maps a DegradationState to the enum value
// DegradationState expects.
func DegradationGaugeValue(s DegradationState) float64 {
	switch s {
	case StateNormal:
		return 0
	case StateRecovering:
		return 1
	case StateDegraded:
		return 2
	case StateFailed:
		return 3
	default:
		return 0
	}
}
