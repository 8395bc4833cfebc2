// Package observability implements the system's failure-severity tracking,
// correlation propagation, and Prometheus metrics (§7, §6.1's operational
// surface).
package observability

import (
	"sync"
	"time"

	"github.com/northcloud/jobforge/internal/domain"
	"github.com/northcloud/jobforge/internal/logger"
)

// DegradationState mirrors the four-state model of the pack's
// recovery/degradation.rs (Normal/Degraded/Failed/Recovering), adapted from
// a per-transport failover concept to a system-wide InternalError severity
// signal (§7: "InternalError ... counted toward degradation thresholds").
type DegradationState string

const (
	StateNormal     DegradationState = "normal"
	StateDegraded   DegradationState = "degraded"
	StateRecovering DegradationState = "recovering"
	StateFailed     DegradationState = "failed"
)

// DegradationConfig controls transition thresholds, named the same as the
// Rust original's DegradationConfig fields.
type DegradationConfig struct {
	FailureThreshold   int
	FailureWindow      time.Duration
	MinDegradationTime time.Duration
	MaxDegradationTime time.Duration
}

func DefaultDegradationConfig() DegradationConfig {
	return DegradationConfig{
		FailureThreshold:   5,
		FailureWindow:      60 * time.Second,
		MinDegradationTime: 30 * time.Second,
		MaxDegradationTime: 5 * time.Minute,
	}
}

// DegradationManager tracks InternalError occurrences over a rolling window
// and exposes the system's current severity state. Components report
// outcomes via RecordError/RecordSuccess; the Administrative API's health
// endpoint (§6.1) surfaces State().
type DegradationManager struct {
	log    logger.Logger
	cfg    DegradationConfig

	mu          sync.Mutex
	state       DegradationState
	failures    []time.Time
	degradedAt  time.Time
	lastReason  string
}

func NewDegradationManager(log logger.Logger, cfg DegradationConfig) *DegradationManager {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultDegradationConfig()
	}
	return &DegradationManager{log: log, cfg: cfg, state: StateNormal}
}

// RecordError reports a failure. Only KindInternalError and KindWorkerCrash
// count toward the degradation threshold (§7); other kinds are expected,
// policy-handled failures and don't erode system health.
func (m *DegradationManager) RecordError(kind domain.ErrorKind, reason string) {
	if kind != domain.KindInternalError && kind != domain.KindWorkerCrash {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.failures = append(m.failures, now)
	m.pruneLocked(now)
	m.lastReason = reason

	if len(m.failures) >= m.cfg.FailureThreshold && m.state == StateNormal {
		m.transitionLocked(StateDegraded, now)
	} else if m.state == StateDegraded && now.Sub(m.degradedAt) >= m.cfg.MaxDegradationTime {
		m.transitionLocked(StateFailed, now)
	}
}

// RecordSuccess reports a successful operation, allowing a Degraded manager
// to move toward Recovering and then Normal once MinDegradationTime has
// elapsed and failures have stopped accumulating.
func (m *DegradationManager) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.pruneLocked(now)

	newFailures := 0
	for _, t := range m.failures {
		if t.After(m.degradedAt) {
			newFailures++
		}
	}

	switch m.state {
	case StateDegraded:
		if now.Sub(m.degradedAt) >= m.cfg.MinDegradationTime && newFailures == 0 {
			m.transitionLocked(StateRecovering, now)
		}
	case StateRecovering:
		if newFailures == 0 {
			m.transitionLocked(StateNormal, now)
		} else {
			m.transitionLocked(StateDegraded, now)
		}
	}
}

func (m *DegradationManager) pruneLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.FailureWindow)
	kept := m.failures[:0]
	for _, t := range m.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.failures = kept
}

func (m *DegradationManager) transitionLocked(to DegradationState, now time.Time) {
	from := m.state
	m.state = to
	if to == StateDegraded {
		m.degradedAt = now
	}
	if m.log != nil {
		m.log.Warn("degradation state transition",
			logger.String("from", string(from)),
			logger.String("to", string(to)),
			logger.String("reason", m.lastReason))
	}
}

// State returns the current degradation state and the reason last recorded.
func (m *DegradationManager) State() (DegradationState, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.lastReason
}

// Healthy reports whether the system should accept new work; Failed means
// refuse, the other three states accept (Degraded/Recovering are advisory).
func (m *DegradationManager) Healthy() bool {
	state, _ := m.State()
	return state != StateFailed
}
