package orchestrator

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/justapithecus/oneshot/durablectx"
	"github.com/justapithecus/oneshot/engine"
	"github.com/justapithecus/oneshot/executor"
	"github.com/justapithecus/oneshot/log"
	"github.com/justapithecus/oneshot/metrics"
	"github.com/justapithecus/oneshot/task"
)

type fakeStream struct {
	lines []string
	idx   int
}

func (s *fakeStream) Next() (string, bool, error) {
	if s.idx >= len(s.lines) {
		return "", false, nil
	}
	line := s.lines[s.idx]
	s.idx++
	return line, true, nil
}

func (s *fakeStream) Close() error { return nil }

// fakeExecutor always succeeds with the same scripted lines, enough to
// drive a task through a single worker/auditor pass.
type fakeExecutor struct {
	name  string
	lines []string
}

func (e *fakeExecutor) Execute(ctx context.Context, prompt string) (executor.Stream, error) {
	return &fakeStream{lines: e.lines}, nil
}

func (e *fakeExecutor) Recover(ctx context.Context, taskID string) (task.RecoveryResult, error) {
	return task.RecoveryResult{Verdict: task.VerdictDead}, errors.New("fakeExecutor: nothing to recover")
}

func (e *fakeExecutor) Metadata() executor.Metadata {
	return executor.Metadata{Name: e.name, Kind: executor.KindSubprocess}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func discardLogger() *log.Logger {
	return log.NewLogger(log.Identity{OneshotID: "orchestrator-test"}).WithOutput(io.Discard)
}

// newTaskSpec wires a fresh Engine and durable context under t's temp dir,
// driven by always-succeeding worker and auditor stubs.
func newTaskSpec(t *testing.T, oneshotID string) TaskSpec {
	t.Helper()
	dir := t.TempDir()

	durable, err := durablectx.Load(filepath.Join(dir, "context.json"), oneshotID, "do the thing", fixedClock(time.Now()))
	if err != nil {
		t.Fatalf("load durable context: %v", err)
	}
	sessionLog, err := engine.OpenSessionLog(filepath.Join(dir, "activity.ndjson"))
	if err != nil {
		t.Fatalf("open session log: %v", err)
	}
	t.Cleanup(func() { _ = sessionLog.Close() })

	worker := &fakeExecutor{name: "worker", lines: []string{`{"status":"DONE","result":"ok"}`}}
	auditor := &fakeExecutor{name: "auditor", lines: []string{"Verdict: DONE"}}

	eng := engine.New(
		engine.Config{InactivityTimeout: time.Hour, KeepLog: true},
		durable,
		worker,
		auditor,
		sessionLog,
		nil,
		discardLogger(),
		metrics.NewCollector("stub", oneshotID, ""),
		nil,
		nil,
	)

	return TaskSpec{OneshotID: oneshotID, Engine: eng, Durable: durable}
}

func TestOrchestrator_RunsTasksToCompletion(t *testing.T) {
	specs := []TaskSpec{
		newTaskSpec(t, "task-a"),
		newTaskSpec(t, "task-b"),
		newTaskSpec(t, "task-c"),
	}

	o := New(Config{MaxConcurrent: 2}, nil)
	results, err := o.Run(context.Background(), specs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for id, res := range results {
		if res.FinalState != task.StateCompleted {
			t.Errorf("task %s: expected COMPLETED, got %s (err=%v)", id, res.FinalState, res.Err)
		}
	}

	stats := o.Stats()
	if stats.Completed != 3 {
		t.Errorf("expected 3 completed in stats, got %d", stats.Completed)
	}
	if stats.Running != 0 {
		t.Errorf("expected 0 running after Run returns, got %d", stats.Running)
	}
}

func TestOrchestrator_PreInterruptedTasksReportInterrupted(t *testing.T) {
	specA := newTaskSpec(t, "task-a")
	specB := newTaskSpec(t, "task-b")
	specA.Engine.Interrupt()
	specB.Engine.Interrupt()

	o := New(Config{MaxConcurrent: 1}, nil)
	results, err := o.Run(context.Background(), []TaskSpec{specA, specB})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for id, res := range results {
		if res.FinalState != task.StateInterrupted {
			t.Errorf("task %s: expected INTERRUPTED, got %s", id, res.FinalState)
		}
	}
	if stats := o.Stats(); stats.Interrupted != 2 {
		t.Errorf("expected 2 interrupted in stats, got %d", stats.Interrupted)
	}
}

func TestOrchestrator_HeartbeatInterruptsGloballyIdleTask(t *testing.T) {
	spec := newTaskSpec(t, "task-stale")
	// Force the durable context's last-activity far into the past so the
	// watchdog's elapsed-time comparison trips on its first tick.
	if err := spec.Durable.SetMetadata("seed", "stale", fixedClock(time.Now().Add(-time.Hour))()); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}

	o := New(Config{HeartbeatInterval: 5 * time.Millisecond, GlobalIdleThreshold: time.Millisecond}, nil)
	o.tasks = []*trackedTask{{spec: spec}}

	done := make(chan struct{})
	go o.heartbeatMonitor(context.Background(), done)
	time.Sleep(30 * time.Millisecond)
	close(done)

	state, err := spec.Engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if state != task.StateInterrupted {
		t.Fatalf("expected the watchdog to have interrupted the stale task, got %s", state)
	}
}
