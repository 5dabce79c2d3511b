// Package orchestrator runs several independent Oneshot tasks concurrently,
// bounded to a fixed worker pool, with a global idle watchdog and a
// graceful-then-abandon shutdown on cancellation. The pool is a buffered
// channel used as a counting semaphore, one goroutine per task, a WaitGroup
// gating completion. Idle tasks are interrupted through each Engine's own
// Interrupt() boundary check rather than forcibly cancelled mid-pump.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justapithecus/oneshot/durablectx"
	"github.com/justapithecus/oneshot/engine"
	"github.com/justapithecus/oneshot/task"
)

// DefaultMaxConcurrent bounds the pool when Config leaves it zero.
const DefaultMaxConcurrent = 5

// DefaultGlobalIdleThreshold is the idle watchdog's default ceiling.
const DefaultGlobalIdleThreshold = 60 * time.Second

// DefaultHeartbeatInterval is how often the idle watchdog scans by default.
const DefaultHeartbeatInterval = 10 * time.Second

// gracePeriod bounds how long Run waits for interrupted tasks to reach a
// terminal state after the caller's context is cancelled.
const gracePeriod = 2 * time.Second

// Config holds the orchestrator's pool-wide tunables.
type Config struct {
	// MaxConcurrent bounds how many tasks run at once. Zero means DefaultMaxConcurrent.
	MaxConcurrent int
	// GlobalIdleThreshold interrupts any task whose durable context has not
	// been updated for longer than this. Zero means DefaultGlobalIdleThreshold.
	GlobalIdleThreshold time.Duration
	// HeartbeatInterval is how often the idle watchdog scans. Zero means
	// DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration
}

func (c Config) maxConcurrent() int {
	if c.MaxConcurrent > 0 {
		return c.MaxConcurrent
	}
	return DefaultMaxConcurrent
}

func (c Config) globalIdleThreshold() time.Duration {
	if c.GlobalIdleThreshold > 0 {
		return c.GlobalIdleThreshold
	}
	return DefaultGlobalIdleThreshold
}

func (c Config) heartbeatInterval() time.Duration {
	if c.HeartbeatInterval > 0 {
		return c.HeartbeatInterval
	}
	return DefaultHeartbeatInterval
}

// TaskSpec is one task for the orchestrator to drive to completion: an
// already-wired Engine plus the durable context it shares with it, so the
// idle watchdog can read last-activity without reaching into the Engine's
// internals.
type TaskSpec struct {
	OneshotID string
	Engine    *engine.Engine
	Durable   *durablectx.Context
}

// Result is one task's outcome.
type Result struct {
	OneshotID  string
	FinalState task.State
	Err        error
}

// Snapshot is a point-in-time view of pool-wide progress.
type Snapshot struct {
	TotalTasks  int
	Running     int
	Completed   int
	Rejected    int
	Failed      int
	Interrupted int
}

type trackedTask struct {
	spec     TaskSpec
	finished atomic.Bool
}

// Orchestrator drives a fixed set of tasks to completion under a bounded
// worker pool, the multi-task analogue of a single Engine.Run.
type Orchestrator struct {
	cfg Config
	now func() time.Time

	mu    sync.Mutex
	tasks []*trackedTask

	completed   atomic.Int64
	rejected    atomic.Int64
	failed      atomic.Int64
	interrupted atomic.Int64

	resultsMu sync.Mutex
	results   map[string]Result
}

// New builds an Orchestrator. now defaults to time.Now if nil.
func New(cfg Config, now func() time.Time) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{cfg: cfg, now: now, results: make(map[string]Result)}
}

// Run starts every spec under the pool's concurrency bound and returns once
// they have all reached a terminal state, the idle watchdog has interrupted
// every remaining task and they have wound down, or ctx is cancelled and the
// grace period has elapsed. The returned map is keyed by OneshotID.
func (o *Orchestrator) Run(ctx context.Context, specs []TaskSpec) (map[string]Result, error) {
	o.mu.Lock()
	o.tasks = make([]*trackedTask, 0, len(specs))
	for _, s := range specs {
		o.tasks = append(o.tasks, &trackedTask{spec: s})
	}
	o.mu.Unlock()

	sem := make(chan struct{}, o.cfg.maxConcurrent())
	var wg sync.WaitGroup

	for _, tt := range o.tasks {
		wg.Add(1)
		go o.runTask(ctx, tt, sem, &wg)
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	heartbeatDone := make(chan struct{})
	go o.heartbeatMonitor(ctx, heartbeatDone)

	var runErr error
	select {
	case <-allDone:
	case <-ctx.Done():
		o.InterruptAll()
		select {
		case <-allDone:
		case <-time.After(gracePeriod):
			runErr = ctx.Err()
		}
	}
	close(heartbeatDone)

	return o.snapshotResults(), runErr
}

// runTask executes one task's Engine.Run under the pool's semaphore and
// records its outcome.
func (o *Orchestrator) runTask(ctx context.Context, tt *trackedTask, sem chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		tt.finished.Store(true)
		o.recordResult(Result{OneshotID: tt.spec.OneshotID, Err: ctx.Err()})
		return
	}
	defer func() { <-sem }()

	state, err := tt.spec.Engine.Run(ctx)
	tt.finished.Store(true)
	o.recordResult(Result{OneshotID: tt.spec.OneshotID, FinalState: state, Err: err})

	switch state {
	case task.StateCompleted:
		o.completed.Add(1)
	case task.StateRejected:
		o.rejected.Add(1)
	case task.StateFailed:
		o.failed.Add(1)
	case task.StateInterrupted:
		o.interrupted.Add(1)
	}
}

func (o *Orchestrator) recordResult(r Result) {
	o.resultsMu.Lock()
	defer o.resultsMu.Unlock()
	o.results[r.OneshotID] = r
}

func (o *Orchestrator) snapshotResults() map[string]Result {
	o.resultsMu.Lock()
	defer o.resultsMu.Unlock()
	out := make(map[string]Result, len(o.results))
	for k, v := range o.results {
		out[k] = v
	}
	return out
}

// heartbeatMonitor is the global idle watchdog: every
// heartbeatInterval, scan each unfinished task's durable context and
// interrupt any whose last-persisted-transition is older than
// globalIdleThreshold. This backstops each Engine's own per-pump
// InactivityTimeout with a pool-wide ceiling spanning the CREATED,
// AUDIT_PENDING, and RECOVERY_PENDING states the per-pump guard does not
// cover.
func (o *Orchestrator) heartbeatMonitor(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(o.cfg.heartbeatInterval())
	defer ticker.Stop()

	threshold := o.cfg.globalIdleThreshold()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.mu.Lock()
			tasks := append([]*trackedTask(nil), o.tasks...)
			o.mu.Unlock()

			for _, tt := range tasks {
				if tt.finished.Load() {
					continue
				}
				lastActivity := tt.spec.Durable.ToSnapshot().UpdatedAt
				if o.now().Sub(lastActivity) > threshold {
					tt.spec.Engine.Interrupt()
				}
			}
		}
	}
}

// InterruptAll interrupts every task still running, the multi-task analogue
// of the single-task CLI's SIGINT handling.
func (o *Orchestrator) InterruptAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, tt := range o.tasks {
		if !tt.finished.Load() {
			tt.spec.Engine.Interrupt()
		}
	}
}

// Interrupt interrupts a single task by OneshotID, a no-op if it is unknown
// or already finished.
func (o *Orchestrator) Interrupt(oneshotID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, tt := range o.tasks {
		if tt.spec.OneshotID == oneshotID && !tt.finished.Load() {
			tt.spec.Engine.Interrupt()
			return
		}
	}
}

// Stats returns a point-in-time view of pool-wide progress.
func (o *Orchestrator) Stats() Snapshot {
	o.mu.Lock()
	total := len(o.tasks)
	running := 0
	for _, tt := range o.tasks {
		if !tt.finished.Load() {
			running++
		}
	}
	o.mu.Unlock()

	return Snapshot{
		TotalTasks:  total,
		Running:     running,
		Completed:   int(o.completed.Load()),
		Rejected:    int(o.rejected.Load()),
		Failed:      int(o.failed.Load()),
		Interrupted: int(o.interrupted.Load()),
	}
}
