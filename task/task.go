// Package task defines the data model persisted by the durable context and
// exchanged between the streaming pipeline, the result extractor, and the
// engine: the task record, its history, activity events, and the recovery
// and result-summary shapes the executor and extractor return.
package task

import "time"

// SchemaVersion is the current task-record schema version. Loaders bump the
// file in place when fields are missing, per the load-time migration rule.
const SchemaVersion = 1

// State is one of the ten states of the authoritative task state machine.
type State string

const (
	StateCreated             State = "CREATED"
	StateWorkerExecuting     State = "WORKER_EXECUTING"
	StateAuditPending        State = "AUDIT_PENDING"
	StateAuditorExecuting    State = "AUDITOR_EXECUTING"
	StateReiterationPending  State = "REITERATION_PENDING"
	StateRecoveryPending     State = "RECOVERY_PENDING"
	StateCompleted           State = "COMPLETED"
	StateRejected            State = "REJECTED"
	StateFailed              State = "FAILED"
	StateInterrupted         State = "INTERRUPTED"
)

// Terminal reports whether s has no outgoing transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateRejected, StateFailed, StateInterrupted:
		return true
	default:
		return false
	}
}

// HistoryEntry is one append-only record of a state transition.
type HistoryEntry struct {
	State  State     `json:"state"`
	TS     time.Time `json:"ts"`
	PID    *int      `json:"pid,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// Record is the task record persisted by the durable context.
type Record struct {
	Version        int            `json:"version"`
	OneshotID      string         `json:"oneshot_id,omitempty"`
	JobID          string         `json:"job_id,omitempty"`
	State          State          `json:"state"`
	IterationCount int            `json:"iteration_count"`
	MaxIterations  int            `json:"max_iterations"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	History        []HistoryEntry `json:"history"`
	WorkerResult   *string        `json:"worker_result"`
	AuditorResult  *string        `json:"auditor_result"`
	Metadata       map[string]any `json:"metadata"`
	Variables      map[string]any `json:"variables"`
}

// NewRecord builds a fresh CREATED record with the given instruction stored
// as the "instruction" variable, ready for a first save.
func NewRecord(oneshotID string, maxIterations int, instruction string, now time.Time) *Record {
	return &Record{
		Version:        SchemaVersion,
		OneshotID:      oneshotID,
		State:          StateCreated,
		IterationCount: 0,
		MaxIterations:  maxIterations,
		CreatedAt:      now,
		UpdatedAt:      now,
		History:        []HistoryEntry{{State: StateCreated, TS: now}},
		Metadata:       map[string]any{},
		Variables:      map[string]any{"instruction": instruction},
	}
}

// ActivityEvent is one streamed unit of executor output: an in-memory event
// before it is logged, and the shape of one NDJSON line of the activity log
// after it is.
type ActivityEvent struct {
	Timestamp   float64 `json:"timestamp"`
	Executor    string  `json:"executor,omitempty"`
	Data        any     `json:"data"`
	IsHeartbeat bool    `json:"is_heartbeat"`
}

// Verdict is the zombie-outcome classification a forensic recovery produces.
type Verdict string

const (
	VerdictSuccess Verdict = "success"
	VerdictPartial Verdict = "partial"
	VerdictDead    Verdict = "dead"
)

// RecoveryResult is returned by Executor.Recover: a side-effect-free
// forensic read of whatever the agent left on disk.
type RecoveryResult struct {
	Success           bool
	RecoveredActivity []ActivityEvent
	Verdict           Verdict
}

// ResultSummary is returned by the result extractor: the chosen event's
// text plus up to two events of surrounding context on each side.
type ResultSummary struct {
	Result          string
	LeadingContext  []string
	TrailingContext []string
	Score           int
}

// AuditorVerdict is the Auditor's judgment, extracted from its activity log.
type AuditorVerdict string

const (
	AuditorDone       AuditorVerdict = "DONE"
	AuditorRetry      AuditorVerdict = "RETRY"
	AuditorImpossible AuditorVerdict = "IMPOSSIBLE"
)
