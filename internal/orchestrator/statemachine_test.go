package orchestrator

import (
	"testing"

	"github.com/northcloud/jobforge/internal/domain"
)

func TestStateMachineCanTransition(t *testing.T) {
	sm := StateMachine{}

	cases := []struct {
		from, to domain.ExecutionStatus
		want     bool
	}{
		{domain.ExecutionPending, domain.ExecutionRunning, true},
		{domain.ExecutionPending, domain.ExecutionCancelled, true},
		{domain.ExecutionPending, domain.ExecutionCompleted, false},
		{domain.ExecutionRunning, domain.ExecutionCompleted, true},
		{domain.ExecutionRunning, domain.ExecutionFailed, true},
		{domain.ExecutionRunning, domain.ExecutionTimedOut, true},
		{domain.ExecutionRunning, domain.ExecutionRetrying, true},
		{domain.ExecutionRunning, domain.ExecutionPending, false},
		{domain.ExecutionRetrying, domain.ExecutionPending, true},
		{domain.ExecutionRetrying, domain.ExecutionFailed, true},
		{domain.ExecutionRetrying, domain.ExecutionRunning, false},
		{domain.ExecutionCompleted, domain.ExecutionRunning, false},
	}

	for _, c := range cases {
		if got := sm.CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestStateMachineTransitionAppliesStatus(t *testing.T) {
	sm := StateMachine{}
	e := &domain.Execution{Status: domain.ExecutionPending}

	if err := sm.Transition(e, domain.ExecutionRunning); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Status != domain.ExecutionRunning {
		t.Errorf("status = %s, want running", e.Status)
	}
}

func TestStateMachineTransitionRejectsIllegalMove(t *testing.T) {
	sm := StateMachine{}
	e := &domain.Execution{Status: domain.ExecutionCompleted}

	err := sm.Transition(e, domain.ExecutionRunning)
	if err == nil {
		t.Fatal("expected an error for an illegal transition")
	}
	var derr *domain.Error
	if !asDomainError(err, &derr) {
		t.Fatalf("expected *domain.Error, got %T", err)
	}
	if derr.Kind != domain.KindProtocolViolation {
		t.Errorf("kind = %s, want protocol_violation", derr.Kind)
	}
	if e.Status != domain.ExecutionCompleted {
		t.Errorf("status mutated despite rejected transition: %s", e.Status)
	}
}

func asDomainError(err error, target **domain.Error) bool {
	de, ok := err.(*domain.Error)
	if !ok {
		return false
	}
	*target = de
	return true
}
