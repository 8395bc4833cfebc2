package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.JobsEnqueuedTotal.WithLabelValues("high").Inc()
	m.QueueDepth.Set(3)
	m.ExecutionsRunning.Inc()

	require.Equal(t, float64(1), testutil.ToFloat64(m.JobsEnqueuedTotal.WithLabelValues("high")))
	require.Equal(t, float64(3), testutil.ToFloat64(m.QueueDepth))
	require.Equal(t, float64(1), testutil.ToFloat64(m.ExecutionsRunning))
}

func TestNewMetricsWithNilRegistererUsesDefault(t *testing.T) {
	// promauto.With(nil) registers against the global registry; constructing
	// a second *Metrics against the same namespace would panic on duplicate
	// registration, so this only exercises the nil-registerer path once.
	require.NotPanics(t, func() {
		NewMetrics(nil)
	})
}

func TestHealthGaugeValue(t *testing.T) {
	cases := map[string]float64{
		"healthy":  1,
		"warning":  2,
		"critical": 3,
		"unknown":  0,
		"":         0,
	}
	for status, want := range cases {
		require.Equal(t, want, HealthGaugeValue(status), "status %q", status)
	}
}

func TestDegradationGaugeValue(t *testing.T) {
	cases := map[DegradationState]float64{
		StateNormal:     0,
		StateRecovering: 1,
		StateDegraded:   2,
		StateFailed:     3,
		DegradationState("bogus"): 0,
	}
	for state, want := range cases {
		require.Equal(t, want, DegradationGaugeValue(state), "state %q", state)
	}
}
