// Package metrics provides per-task metrics collection for the engine.
//
// The Collector accumulates counters during a single task's lifecycle. It is
// a leaf package with no internal dependencies: mutex-guarded counters, an
// immutable Snapshot, nil-receiver-safe increments.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all collected metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Task lifecycle
	TasksStarted     int64
	TasksCompleted   int64
	TasksRejected    int64
	TasksFailed      int64
	TasksInterrupted int64

	// Executor
	WorkerCrashes    int64
	AuditorCrashes   int64
	RecoveryAttempts int64
	RecoverySuccess  int64

	// Iterations (absorbed at task completion)
	IterationsRun int64

	// Dimensions (informational, set at construction)
	Executor  string
	OneshotID string
	JobID     string
}

// Collector accumulates metrics during a single task's run.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	tasksStarted     int64
	tasksCompleted   int64
	tasksRejected    int64
	tasksFailed      int64
	tasksInterrupted int64

	workerCrashes    int64
	auditorCrashes   int64
	recoveryAttempts int64
	recoverySuccess  int64

	iterationsRun int64

	executor  string
	oneshotID string
	jobID     string
}

// NewCollector creates a Collector with dimension labels. executor and
// oneshotID are the expected dimensions; jobID is optional (empty string for
// single-task runs not launched by the async orchestrator).
func NewCollector(executor, oneshotID, jobID string) *Collector {
	return &Collector{
		executor:  executor,
		oneshotID: oneshotID,
		jobID:     jobID,
	}
}

// --- Task lifecycle ---

// IncTaskStarted records a task entering CREATED.
func (c *Collector) IncTaskStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.tasksStarted++
	c.mu.Unlock()
}

// IncTaskCompleted records a task reaching COMPLETED.
func (c *Collector) IncTaskCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.tasksCompleted++
	c.mu.Unlock()
}

// IncTaskRejected records a task reaching REJECTED.
func (c *Collector) IncTaskRejected() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.tasksRejected++
	c.mu.Unlock()
}

// IncTaskFailed records a task reaching FAILED.
func (c *Collector) IncTaskFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.tasksFailed++
	c.mu.Unlock()
}

// IncTaskInterrupted records a task reaching INTERRUPTED.
func (c *Collector) IncTaskInterrupted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.tasksInterrupted++
	c.mu.Unlock()
}

// --- Executor ---

// IncWorkerCrash records a Worker crash or inactivity timeout.
func (c *Collector) IncWorkerCrash() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.workerCrashes++
	c.mu.Unlock()
}

// IncAuditorCrash records an Auditor crash or inactivity timeout (fatal).
func (c *Collector) IncAuditorCrash() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.auditorCrashes++
	c.mu.Unlock()
}

// IncRecoveryAttempt records one forensic recovery attempt.
func (c *Collector) IncRecoveryAttempt() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recoveryAttempts++
	c.mu.Unlock()
}

// IncRecoverySuccess records a recovery that found salvageable work
// (verdict success or partial).
func (c *Collector) IncRecoverySuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recoverySuccess++
	c.mu.Unlock()
}

// --- Iterations ---

// SetIterationsRun records the final iteration_count absorbed from the
// durable context at task completion.
func (c *Collector) SetIterationsRun(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.iterationsRun = n
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		TasksStarted:     c.tasksStarted,
		TasksCompleted:   c.tasksCompleted,
		TasksRejected:    c.tasksRejected,
		TasksFailed:      c.tasksFailed,
		TasksInterrupted: c.tasksInterrupted,

		WorkerCrashes:    c.workerCrashes,
		AuditorCrashes:   c.auditorCrashes,
		RecoveryAttempts: c.recoveryAttempts,
		RecoverySuccess:  c.recoverySuccess,

		IterationsRun: c.iterationsRun,

		Executor:  c.executor,
		OneshotID: c.oneshotID,
		JobID:     c.jobID,
	}
}
