// Package statemachine implements the authoritative transition table and
// next-action selector for one task's lifecycle.
package statemachine

import (
	"fmt"

	"github.com/justapithecus/oneshot/task"
)

// Event is one of the named triggers in the authoritative transition table.
type Event string

const (
	EventStart          Event = "start"
	EventSuccess        Event = "success"
	EventCrash          Event = "crash"
	EventInactivity     Event = "inactivity"
	EventInterrupt      Event = "interrupt"
	EventNext           Event = "next"
	EventDone           Event = "done"
	EventRetry          Event = "retry"
	EventImpossible     Event = "impossible"
	EventMaxIterations  Event = "max_iterations"
	EventZombieSuccess  Event = "zombie_success"
	EventZombiePartial  Event = "zombie_partial"
	EventZombieDead     Event = "zombie_dead"
)

// transitionKey is a (state, event) pair.
type transitionKey struct {
	state task.State
	event Event
}

// transitions is the authoritative (state, event) -> next-state table. Worker
// crashes and hangs route to recovery; the same failures in the auditor are
// fatal to the task.
var transitions = map[transitionKey]task.State{
	{task.StateCreated, EventStart}:     task.StateWorkerExecuting,
	{task.StateCreated, EventInterrupt}: task.StateInterrupted,

	{task.StateWorkerExecuting, EventSuccess}:    task.StateAuditPending,
	{task.StateWorkerExecuting, EventCrash}:      task.StateRecoveryPending,
	{task.StateWorkerExecuting, EventInactivity}: task.StateRecoveryPending,
	{task.StateWorkerExecuting, EventInterrupt}:  task.StateInterrupted,

	{task.StateAuditPending, EventNext}:      task.StateAuditorExecuting,
	{task.StateAuditPending, EventInterrupt}: task.StateInterrupted,

	{task.StateAuditorExecuting, EventDone}:       task.StateCompleted,
	{task.StateAuditorExecuting, EventRetry}:      task.StateReiterationPending,
	{task.StateAuditorExecuting, EventImpossible}: task.StateRejected,
	{task.StateAuditorExecuting, EventCrash}:      task.StateFailed,
	{task.StateAuditorExecuting, EventInactivity}: task.StateFailed,
	{task.StateAuditorExecuting, EventInterrupt}:  task.StateInterrupted,

	{task.StateReiterationPending, EventNext}:          task.StateWorkerExecuting,
	{task.StateReiterationPending, EventMaxIterations}: task.StateFailed,
	{task.StateReiterationPending, EventInterrupt}:     task.StateInterrupted,

	{task.StateRecoveryPending, EventZombieSuccess}: task.StateAuditPending,
	{task.StateRecoveryPending, EventZombiePartial}: task.StateReiterationPending,
	{task.StateRecoveryPending, EventZombieDead}:     task.StateFailed,
	{task.StateRecoveryPending, EventInterrupt}:      task.StateInterrupted,
}

// InvalidTransitionError reports a (state, event) pair not present in the
// authoritative table. Any pair not listed is invalid and fails loudly.
type InvalidTransitionError struct {
	State task.State
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: (%s, %s)", e.State, e.Event)
}

// Transition returns the next state for (current, event), or an
// *InvalidTransitionError if the pair is not in the authoritative table.
func Transition(current task.State, event Event) (task.State, error) {
	next, ok := transitions[transitionKey{current, event}]
	if !ok {
		return "", &InvalidTransitionError{State: current, Event: event}
	}
	return next, nil
}

// Action is one of the five actions the Engine's run loop dispatches on.
type Action string

const (
	ActionRunWorker  Action = "RUN_WORKER"
	ActionRunAuditor Action = "RUN_AUDITOR"
	ActionRecover    Action = "RECOVER"
	ActionExit       Action = "EXIT"
	ActionWait       Action = "WAIT"
)

// NextAction maps a state to the action the Engine's run loop should take.
func NextAction(state task.State) (Action, error) {
	switch state {
	case task.StateCreated, task.StateReiterationPending:
		return ActionRunWorker, nil
	case task.StateAuditPending:
		return ActionRunAuditor, nil
	case task.StateRecoveryPending:
		return ActionRecover, nil
	case task.StateWorkerExecuting, task.StateAuditorExecuting:
		return ActionWait, nil
	case task.StateCompleted, task.StateRejected, task.StateFailed, task.StateInterrupted:
		return ActionExit, nil
	default:
		return "", fmt.Errorf("statemachine: unknown state %q", state)
	}
}
