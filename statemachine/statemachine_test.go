package statemachine

import (
	"errors"
	"testing"

	"github.com/justapithecus/oneshot/task"
)

func TestTransition_ValidPairs(t *testing.T) {
	cases := []struct {
		from  task.State
		event Event
		want  task.State
	}{
		{task.StateCreated, EventStart, task.StateWorkerExecuting},
		{task.StateCreated, EventInterrupt, task.StateInterrupted},
		{task.StateWorkerExecuting, EventSuccess, task.StateAuditPending},
		{task.StateWorkerExecuting, EventCrash, task.StateRecoveryPending},
		{task.StateWorkerExecuting, EventInactivity, task.StateRecoveryPending},
		{task.StateWorkerExecuting, EventInterrupt, task.StateInterrupted},
		{task.StateAuditPending, EventNext, task.StateAuditorExecuting},
		{task.StateAuditPending, EventInterrupt, task.StateInterrupted},
		{task.StateAuditorExecuting, EventDone, task.StateCompleted},
		{task.StateAuditorExecuting, EventRetry, task.StateReiterationPending},
		{task.StateAuditorExecuting, EventImpossible, task.StateRejected},
		{task.StateAuditorExecuting, EventCrash, task.StateFailed},
		{task.StateAuditorExecuting, EventInactivity, task.StateFailed},
		{task.StateAuditorExecuting, EventInterrupt, task.StateInterrupted},
		{task.StateReiterationPending, EventNext, task.StateWorkerExecuting},
		{task.StateReiterationPending, EventMaxIterations, task.StateFailed},
		{task.StateReiterationPending, EventInterrupt, task.StateInterrupted},
		{task.StateRecoveryPending, EventZombieSuccess, task.StateAuditPending},
		{task.StateRecoveryPending, EventZombiePartial, task.StateReiterationPending},
		{task.StateRecoveryPending, EventZombieDead, task.StateFailed},
		{task.StateRecoveryPending, EventInterrupt, task.StateInterrupted},
	}

	for _, c := range cases {
		got, err := Transition(c.from, c.event)
		if err != nil {
			t.Errorf("Transition(%s, %s): unexpected error %v", c.from, c.event, err)
			continue
		}
		if got != c.want {
			t.Errorf("Transition(%s, %s) = %s, want %s", c.from, c.event, got, c.want)
		}
	}
}

func TestTransition_InvalidPairFailsLoudly(t *testing.T) {
	_, err := Transition(task.StateCreated, EventSuccess)
	if err == nil {
		t.Fatal("expected error for unlisted (state, event) pair")
	}
	var invalidErr *InvalidTransitionError
	if !errors.As(err, &invalidErr) {
		t.Fatalf("expected *InvalidTransitionError, got %T", err)
	}
}

func TestTransition_TerminalStatesHaveNoOutgoing(t *testing.T) {
	terminal := []task.State{task.StateCompleted, task.StateRejected, task.StateFailed, task.StateInterrupted}
	events := []Event{EventStart, EventSuccess, EventCrash, EventInactivity, EventInterrupt, EventNext, EventDone, EventRetry, EventImpossible, EventMaxIterations, EventZombieSuccess, EventZombiePartial, EventZombieDead}

	for _, s := range terminal {
		for _, e := range events {
			if _, err := Transition(s, e); err == nil {
				t.Errorf("terminal state %s accepted event %s, want error", s, e)
			}
		}
	}
}

func TestNextAction(t *testing.T) {
	cases := []struct {
		state task.State
		want  Action
	}{
		{task.StateCreated, ActionRunWorker},
		{task.StateReiterationPending, ActionRunWorker},
		{task.StateAuditPending, ActionRunAuditor},
		{task.StateRecoveryPending, ActionRecover},
		{task.StateWorkerExecuting, ActionWait},
		{task.StateAuditorExecuting, ActionWait},
		{task.StateCompleted, ActionExit},
		{task.StateRejected, ActionExit},
		{task.StateFailed, ActionExit},
		{task.StateInterrupted, ActionExit},
	}

	for _, c := range cases {
		got, err := NextAction(c.state)
		if err != nil {
			t.Errorf("NextAction(%s): unexpected error %v", c.state, err)
			continue
		}
		if got != c.want {
			t.Errorf("NextAction(%s) = %s, want %s", c.state, got, c.want)
		}
	}
}

func TestNextAction_UnknownState(t *testing.T) {
	if _, err := NextAction(task.State("BOGUS")); err == nil {
		t.Fatal("expected error for unknown state")
	}
}
