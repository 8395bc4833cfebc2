package orchestrator

import "github.com/northcloud/jobforge/internal/domain"

// allowedTransitions enumerates §4.1.3's Execution state machine. Anything
// not listed here is rejected by Transition.
var allowedTransitions = map[domain.ExecutionStatus][]domain.ExecutionStatus{
	domain.ExecutionPending: {
		domain.ExecutionRunning,
		domain.ExecutionCancelled,
	},
	domain.ExecutionRunning: {
		domain.ExecutionCompleted,
		domain.ExecutionFailed,
		domain.ExecutionTimedOut,
		domain.ExecutionCancelled,
		domain.ExecutionRetrying,
	},
	domain.ExecutionRetrying: {
		domain.ExecutionPending,
		domain.ExecutionFailed,
	},
}

// StateMachine enforces §4.1.3's transition table and §8 invariant 1 (status
// is always exactly one of the seven states, reached only via an allowed
// transition).
type StateMachine struct{}

// CanTransition reports whether from -> to is a legal single-step transition.
func (StateMachine) CanTransition(from, to domain.ExecutionStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition applies the requested transition, returning a ProtocolViolation
// domain error if it is not allowed from the execution's current status.
func (sm StateMachine) Transition(e *domain.Execution, to domain.ExecutionStatus) error {
	if !sm.CanTransition(e.Status, to) {
		return domain.NewError(domain.KindProtocolViolation,
			"illegal execution transition "+string(e.Status)+" -> "+string(to), nil)
	}
	e.Status = to
	return nil
}
