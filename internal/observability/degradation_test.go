package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/northcloud/jobforge/internal/domain"
	"github.com/northcloud/jobforge/internal/logger"
)

func testDegradationConfig() DegradationConfig {
	return DegradationConfig{
		FailureThreshold:   3,
		FailureWindow:      time.Minute,
		MinDegradationTime: 0,
		MaxDegradationTime: time.Hour,
	}
}

func TestDegradationManagerStartsNormal(t *testing.T) {
	m := NewDegradationManager(logger.NewNop(), testDegradationConfig())
	state, _ := m.State()
	require.Equal(t, StateNormal, state)
	require.True(t, m.Healthy())
}

func TestDegradationManagerIgnoresNonQualifyingErrorKinds(t *testing.T) {
	m := NewDegradationManager(logger.NewNop(), testDegradationConfig())
	for i := 0; i < 10; i++ {
		m.RecordError(domain.KindSchemaValidationInput, "bad input")
	}
	state, _ := m.State()
	require.Equal(t, StateNormal, state)
}

func TestDegradationManagerTransitionsToDegradedAtThreshold(t *testing.T) {
	m := NewDegradationManager(logger.NewNop(), testDegradationConfig())
	m.RecordError(domain.KindInternalError, "boom 1")
	m.RecordError(domain.KindInternalError, "boom 2")
	state, _ := m.State()
	require.Equal(t, StateNormal, state, "below threshold must stay normal")

	m.RecordError(domain.KindInternalError, "boom 3")
	state, reason := m.State()
	require.Equal(t, StateDegraded, state)
	require.Equal(t, "boom 3", reason)
	require.True(t, m.Healthy(), "degraded is advisory, not a refuse-new-work signal")
}

func TestDegradationManagerWorkerCrashAlsoCounts(t *testing.T) {
	m := NewDegradationManager(logger.NewNop(), testDegradationConfig())
	for i := 0; i < 3; i++ {
		m.RecordError(domain.KindWorkerCrash, "worker died")
	}
	state, _ := m.State()
	require.Equal(t, StateDegraded, state)
}

func TestDegradationManagerRecoversToNormalAfterSuccesses(t *testing.T) {
	m := NewDegradationManager(logger.NewNop(), testDegradationConfig())
	for i := 0; i < 3; i++ {
		m.RecordError(domain.KindInternalError, "boom")
	}
	state, _ := m.State()
	require.Equal(t, StateDegraded, state)

	// MinDegradationTime is 0 in this fixture, so the first success with no
	// new failures since should immediately move to Recovering.
	m.RecordSuccess()
	state, _ = m.State()
	require.Equal(t, StateRecovering, state)

	m.RecordSuccess()
	state, _ = m.State()
	require.Equal(t, StateNormal, state)
}

func TestDegradationManagerRecoveringFallsBackToDegradedOnNewFailure(t *testing.T) {
	m := NewDegradationManager(logger.NewNop(), testDegradationConfig())
	for i := 0; i < 3; i++ {
		m.RecordError(domain.KindInternalError, "boom")
	}
	m.RecordSuccess()
	state, _ := m.State()
	require.Equal(t, StateRecovering, state)

	m.RecordError(domain.KindInternalError, "boom again")
	m.RecordSuccess()
	state, _ = m.State()
	require.Equal(t, StateDegraded, state)
}

func TestDegradationManagerEscalatesToFailedAfterMaxDegradationTime(t *testing.T) {
	cfg := testDegradationConfig()
	cfg.MaxDegradationTime = 0
	m := NewDegradationManager(logger.NewNop(), cfg)

	for i := 0; i < 3; i++ {
		m.RecordError(domain.KindInternalError, "boom")
	}
	state, _ := m.State()
	require.Equal(t, StateDegraded, state)

	m.RecordError(domain.KindInternalError, "still failing")
	state, _ = m.State()
	require.Equal(t, StateFailed, state)
	require.False(t, m.Healthy())
}

func TestDegradationManagerPrunesFailuresOutsideWindow(t *testing.T) {
	cfg := testDegradationConfig()
	cfg.FailureWindow = 0
	m := NewDegradationManager(logger.NewNop(), cfg)

	m.RecordError(domain.KindInternalError, "boom 1")
	time.Sleep(time.Millisecond)
	m.RecordError(domain.KindInternalError, "boom 2")
	time.Sleep(time.Millisecond)
	m.RecordError(domain.KindInternalError, "boom 3")

	state, _ := m.State()
	require.Equal(t, StateNormal, state, "a zero failure window prunes every prior failure before counting")
}

func TestDefaultDegradationConfigAppliedWhenThresholdNotSet(t *testing.T) {
	m := NewDegradationManager(logger.NewNop(), DegradationConfig{})
	require.Equal(t, DefaultDegradationConfig().FailureThreshold, m.cfg.FailureThreshold)
}
