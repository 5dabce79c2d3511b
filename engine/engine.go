// Package engine implements the single-threaded run loop that drives one
// task's durable context through the authoritative state machine,
// dispatching each RUN_WORKER/RUN_AUDITOR/RECOVER action to the configured
// Executor pair and persisting every transition before the next action is
// chosen. The stream is pumped fully before the process is reaped, every
// guard is released on every exit path, and best-effort side effects
// (archival, notification) are non-fatal to the run's own outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/justapithecus/oneshot/archive"
	"github.com/justapithecus/oneshot/durablectx"
	"github.com/justapithecus/oneshot/executor"
	"github.com/justapithecus/oneshot/extractor"
	"github.com/justapithecus/oneshot/log"
	"github.com/justapithecus/oneshot/metrics"
	"github.com/justapithecus/oneshot/notify"
	"github.com/justapithecus/oneshot/pipeline"
	"github.com/justapithecus/oneshot/promptgen"
	"github.com/justapithecus/oneshot/statemachine"
	"github.com/justapithecus/oneshot/task"
)

// auditorVerdictWindow is the number of trailing session-log lines scanned
// for the auditor's verdict. A heuristic window, not a protocol constant.
const auditorVerdictWindow = 10

// errInterrupted is the pump sentinel for a SIGINT observed mid-stream.
var errInterrupted = errors.New("engine: interrupted")

// Config holds the per-run tunables the engine itself owns; CLI flag
// parsing and config-file loading live in cli/config.
type Config struct {
	// InactivityTimeout bounds how long the pipeline's inactivity guard
	// will wait between activity events before tripping.
	InactivityTimeout time.Duration
	// KeepLog, if false, deletes the session log of a COMPLETED task.
	KeepLog bool
	// ArchiveExecutorName labels archived records; typically the Worker's
	// executor name.
	ArchiveExecutorName string
}

// Engine drives one task's durable context to a terminal state.
type Engine struct {
	cfg Config

	durable *durablectx.Context
	worker  executor.Executor
	auditor executor.Executor

	prompts    *promptgen.Generator
	sessionLog *SessionLog
	logger     *log.Logger
	metrics    *metrics.Collector
	notifier   notify.Notifier
	archiver   *archive.Archiver

	now func() time.Time

	interrupted atomic.Bool

	lastWorkerSummary *task.ResultSummary
}

// New builds an Engine. notifier and archiver may be nil (best-effort
// sinks, skipped when absent); prompts may be nil (defaults applied).
func New(
	cfg Config,
	durable *durablectx.Context,
	worker, auditor executor.Executor,
	sessionLog *SessionLog,
	prompts *promptgen.Generator,
	logger *log.Logger,
	metricsCollector *metrics.Collector,
	notifier notify.Notifier,
	archiver *archive.Archiver,
) *Engine {
	if prompts == nil {
		prompts = promptgen.NewGenerator()
	}
	return &Engine{
		cfg:        cfg,
		durable:    durable,
		worker:     worker,
		auditor:    auditor,
		prompts:    prompts,
		sessionLog: sessionLog,
		logger:     logger,
		metrics:    metricsCollector,
		notifier:   notifier,
		archiver:   archiver,
		now:        time.Now,
	}
}

// Interrupt marks the run as interrupted; observed at the next loop or
// pump-read boundary. The caller's signal.Notify handler is the usual
// invoker.
func (e *Engine) Interrupt() {
	e.interrupted.Store(true)
}

// Run drives the durable context from its current state to a terminal one,
// returning the terminal state reached. ctx cancellation is treated the
// same as Interrupt.
func (e *Engine) Run(ctx context.Context) (task.State, error) {
	e.metrics.IncTaskStarted()

	for {
		if e.shouldInterrupt(ctx) {
			return e.handleInterrupt()
		}

		state := e.durable.GetState()
		action, err := statemachine.NextAction(state)
		if err != nil {
			return state, err
		}

		switch action {
		case statemachine.ActionExit:
			return e.finish(state)
		case statemachine.ActionRunWorker:
			if err := e.executeWorker(ctx); err != nil {
				return e.durable.GetState(), err
			}
		case statemachine.ActionRunAuditor:
			if err := e.executeAuditor(ctx); err != nil {
				return e.durable.GetState(), err
			}
		case statemachine.ActionRecover:
			if err := e.executeRecovery(ctx); err != nil {
				return e.durable.GetState(), err
			}
		case statemachine.ActionWait:
			time.Sleep(100 * time.Millisecond)
		}
	}
}

func (e *Engine) shouldInterrupt(ctx context.Context) bool {
	if e.interrupted.Load() {
		return true
	}
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (e *Engine) handleInterrupt() (task.State, error) {
	// An interrupt observed after the task already reached a terminal
	// state has nothing to transition.
	if state := e.durable.GetState(); state.Terminal() {
		return e.finish(state)
	}
	if err := e.advance(statemachine.EventInterrupt, "interrupt"); err != nil {
		return e.durable.GetState(), err
	}
	return e.finish(task.StateInterrupted)
}

// advance transitions the durable context's current state by event and
// persists it, wrapping any save failure as a PersistErrorKind.
func (e *Engine) advance(event statemachine.Event, reason string) error {
	cur := e.durable.GetState()
	next, err := statemachine.Transition(cur, event)
	if err != nil {
		return err
	}
	if err := e.durable.SetState(next, reason, nil, e.now()); err != nil {
		return &Error{Kind: PersistErrorKind, Err: err}
	}
	return nil
}

// executeWorker runs one Worker attempt. On a reiteration, iteration_count
// is bumped and the task fails BEFORE transitioning to WORKER_EXECUTING if
// the ceiling is exceeded; otherwise the Worker runs and its outcome maps
// to the success/crash/inactivity/interrupt event.
func (e *Engine) executeWorker(ctx context.Context) error {
	state := e.durable.GetState()
	isReiteration := state == task.StateReiterationPending

	if isReiteration {
		iter, err := e.durable.IncrementIteration(e.now())
		if err != nil {
			return &Error{Kind: PersistErrorKind, Err: err}
		}
		if iter >= e.durable.GetMaxIterations() {
			return e.advance(statemachine.EventMaxIterations, "max_iterations")
		}
		if err := e.advance(statemachine.EventNext, ""); err != nil {
			return err
		}
	} else {
		if err := e.advance(statemachine.EventStart, ""); err != nil {
			return err
		}
	}

	instruction := instructionFrom(e.durable)
	iterationNumber := e.durable.GetIterationCount() + 1

	var feedback string
	if isReiteration {
		if res := e.durable.GetAuditorResult(); res != nil {
			feedback = *res
		}
	}

	prompt := e.prompts.WorkerPrompt(e.oneshotID(), iterationNumber, instruction, feedback)
	pumpErr := e.pump(ctx, e.worker, prompt, e.workerName())

	switch {
	case pumpErr == nil:
		summary, err := extractor.ExtractResult(e.sessionLog.Path())
		if err != nil {
			return &Error{Kind: PersistErrorKind, Err: err}
		}
		e.lastWorkerSummary = summary
		result := ""
		if summary != nil {
			result = summary.Result
		}
		if err := e.durable.SetWorkerResult(result, e.now()); err != nil {
			return &Error{Kind: PersistErrorKind, Err: err}
		}
		return e.advance(statemachine.EventSuccess, "")

	case errors.Is(pumpErr, errInterrupted):
		return e.advance(statemachine.EventInterrupt, "interrupt")

	default:
		kind := classifyPumpError(pumpErr)
		e.metrics.IncWorkerCrash()
		event := statemachine.EventCrash
		if kind == InactivityTimeoutKind {
			event = statemachine.EventInactivity
		}
		return e.advance(event, string(kind))
	}
}

// executeAuditor runs one Auditor judgment. A crash or inactivity here is
// fatal: the Auditor is judgment, not work, so there is no recovery path,
// unlike the Worker's crash/inactivity handling above.
func (e *Engine) executeAuditor(ctx context.Context) error {
	if err := e.advance(statemachine.EventNext, ""); err != nil {
		return err
	}

	instruction := instructionFrom(e.durable)
	iterationNumber := e.durable.GetIterationCount() + 1
	summary := e.lastWorkerSummary
	if summary == nil {
		summary = &task.ResultSummary{}
	}

	prompt := e.prompts.AuditorPrompt(e.oneshotID(), iterationNumber, instruction, *summary)
	pumpErr := e.pump(ctx, e.auditor, prompt, e.auditorName())

	switch {
	case pumpErr == nil:
		verdict, unparseable := extractAuditorVerdict(e.sessionLog.Path(), auditorVerdictWindow)
		if err := e.durable.SetAuditorResult(string(verdict), e.now()); err != nil {
			return &Error{Kind: PersistErrorKind, Err: err}
		}
		if unparseable {
			e.logger.Warn("auditor verdict unparseable, defaulting to done", map[string]any{
				"oneshot_id": e.oneshotID(),
			})
		}

		event := statemachine.EventDone
		switch verdict {
		case task.AuditorRetry:
			event = statemachine.EventRetry
		case task.AuditorImpossible:
			event = statemachine.EventImpossible
		}
		return e.advance(event, "")

	case errors.Is(pumpErr, errInterrupted):
		return e.advance(statemachine.EventInterrupt, "interrupt")

	default:
		kind := classifyPumpError(pumpErr)
		e.metrics.IncAuditorCrash()
		event := statemachine.EventCrash
		if kind == InactivityTimeoutKind {
			event = statemachine.EventInactivity
		}
		return e.advance(event, string(kind))
	}
}

// executeRecovery performs a side-effect-free forensic read of the
// Worker's on-disk state via the Worker executor's Recover and maps the
// zombie verdict to the corresponding transition.
func (e *Engine) executeRecovery(ctx context.Context) error {
	e.metrics.IncRecoveryAttempt()

	result, err := e.worker.Recover(ctx, e.oneshotID())
	if err != nil {
		return e.advance(statemachine.EventZombieDead, err.Error())
	}

	if err := e.durable.SetMetadata("recovered_activities", result.RecoveredActivity, e.now()); err != nil {
		return &Error{Kind: PersistErrorKind, Err: err}
	}

	var event statemachine.Event
	switch result.Verdict {
	case task.VerdictSuccess:
		event = statemachine.EventZombieSuccess
		e.metrics.IncRecoverySuccess()
	case task.VerdictPartial:
		event = statemachine.EventZombiePartial
		e.metrics.IncRecoverySuccess()
	default:
		event = statemachine.EventZombieDead
	}

	if result.Success {
		summary := recoveredSummary(result.RecoveredActivity)
		e.lastWorkerSummary = summary
		if err := e.durable.SetWorkerResult(summary.Result, e.now()); err != nil {
			return &Error{Kind: PersistErrorKind, Err: err}
		}
	}

	return e.advance(event, "")
}

// pump drives ex's stream through the five-stage pipeline until the
// stream is exhausted, the inactivity guard trips, the context is
// cancelled or Interrupt is called, or the stream errors.
func (e *Engine) pump(ctx context.Context, ex executor.Executor, prompt, executorName string) error {
	stream, err := ex.Execute(ctx, prompt)
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()

	guard := pipeline.NewInactivityGuard(
		pipeline.Timestamp(pipeline.Ingest(stream), executorName, e.now),
		e.cfg.InactivityTimeout.Seconds(),
		e.now,
		func() { _ = stream.Close() },
	)
	defer guard.Release()

	parsed := pipeline.Parse(pipeline.Log(guard, e.sessionLog))

	for {
		if e.interrupted.Load() {
			return errInterrupted
		}
		select {
		case <-ctx.Done():
			return errInterrupted
		default:
		}

		_, ok, err := parsed.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

// classifyPumpError maps a pump failure to the EngineErrorKind used for
// state-transition and metrics branching.
func classifyPumpError(err error) Kind {
	var launchErr *executor.LaunchError
	if errors.As(err, &launchErr) {
		return LaunchErrorKind
	}
	var timeoutErr *pipeline.InactivityTimeoutError
	if errors.As(err, &timeoutErr) {
		return InactivityTimeoutKind
	}
	return StreamErrorKind
}

// verdictFieldPattern matches a quoted "verdict" (or "status") assignment
// inside a line that is not itself a parseable JSON object.
var (
	verdictFieldPattern = regexp.MustCompile(`(?i)"verdict"\s*:\s*"([^"]+)"`)
	statusFieldPattern  = regexp.MustCompile(`(?i)"status"\s*:\s*"([^"]+)"`)
)

// extractAuditorVerdict scans the last window lines of the session log,
// most recent first, trying in order: a parsed JSON object with a verdict
// field, a quoted "verdict" pattern, a quoted "status" pattern, and plain
// completion keywords. If nothing yields a verdict it returns AuditorDone
// with unparseable=true so the run cannot loop forever; the caller logs
// a warning.
func extractAuditorVerdict(logPath string, window int) (verdict task.AuditorVerdict, unparseable bool) {
	lines, err := tailLines(logPath, window)
	if err != nil {
		return task.AuditorDone, true
	}

	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]

		if obj, ok := pipeline.ExtractJSONObject(line); ok {
			if raw, ok := obj["verdict"].(string); ok {
				if v, ok := classifyVerdictWord(raw); ok {
					return v, false
				}
			}
		}
		if m := verdictFieldPattern.FindStringSubmatch(line); m != nil {
			if v, ok := classifyVerdictWord(m[1]); ok {
				return v, false
			}
		}
		if m := statusFieldPattern.FindStringSubmatch(line); m != nil {
			if v, ok := classifyVerdictWord(m[1]); ok {
				return v, false
			}
		}
		if v, ok := classifyVerdictWord(line); ok {
			return v, false
		}
	}
	return task.AuditorDone, true
}

// classifyVerdictWord maps free text to a verdict by keyword.
func classifyVerdictWord(s string) (task.AuditorVerdict, bool) {
	upper := strings.ToUpper(s)
	switch {
	case strings.Contains(upper, "IMPOSSIBLE") || strings.Contains(upper, "CANNOT"):
		return task.AuditorImpossible, true
	case strings.Contains(upper, "RETRY") || strings.Contains(upper, "INCOMPLETE") || strings.Contains(upper, "REITERATE"):
		return task.AuditorRetry, true
	case strings.Contains(upper, "DONE") || strings.Contains(upper, "COMPLETE") || strings.Contains(upper, "SUCCESS"):
		return task.AuditorDone, true
	default:
		return "", false
	}
}

// recoveredSummary builds a ResultSummary from a recovered activity log:
// the last event is the result, up to two prior events are leading
// context, matching the extractor's own context-window shape.
func recoveredSummary(events []task.ActivityEvent) *task.ResultSummary {
	if len(events) == 0 {
		return &task.ResultSummary{}
	}
	last := events[len(events)-1]

	start := len(events) - 3
	if start < 0 {
		start = 0
	}
	var leading []string
	for i := start; i < len(events)-1; i++ {
		leading = append(leading, fmt.Sprint(events[i].Data))
	}

	return &task.ResultSummary{
		Result:         fmt.Sprint(last.Data),
		LeadingContext: leading,
	}
}

// finish records terminal-state metrics, fires the notifier and archiver
// best-effort, and cleans up the session log.
func (e *Engine) finish(state task.State) (task.State, error) {
	switch state {
	case task.StateCompleted:
		e.metrics.IncTaskCompleted()
	case task.StateRejected:
		e.metrics.IncTaskRejected()
	case task.StateFailed:
		e.metrics.IncTaskFailed()
	case task.StateInterrupted:
		e.metrics.IncTaskInterrupted()
	}
	e.metrics.SetIterationsRun(int64(e.durable.GetIterationCount()))

	e.notifyCompletion(state)
	e.archiveIfConfigured(state)

	if state == task.StateCompleted && !e.cfg.KeepLog {
		_ = e.sessionLog.Remove()
	} else {
		_ = e.sessionLog.Close()
	}

	return state, nil
}

func (e *Engine) notifyCompletion(state task.State) {
	if e.notifier == nil {
		return
	}
	snap := e.durable.ToSnapshot()
	event := &notify.TaskCompletedEvent{
		OneshotID:      snap.OneshotID,
		JobID:          snap.JobID,
		State:          string(state),
		IterationCount: snap.IterationCount,
		Timestamp:      e.now().UTC().Format(time.RFC3339),
	}
	if snap.WorkerResult != nil {
		event.WorkerResult = *snap.WorkerResult
	}
	if snap.AuditorResult != nil {
		event.AuditorResult = *snap.AuditorResult
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.notifier.Publish(ctx, event); err != nil {
		e.logger.Warn("notify publish failed", map[string]any{"error": err.Error()})
	}
}

func (e *Engine) archiveIfConfigured(state task.State) {
	if e.archiver == nil {
		return
	}
	logBytes, err := os.ReadFile(e.sessionLog.Path())
	if err != nil {
		logBytes = nil
	}

	snap := e.durable.ToSnapshot()
	rec := archive.Record{
		OneshotID:     snap.OneshotID,
		Executor:      e.cfg.ArchiveExecutorName,
		Day:           archive.DeriveDay(e.now()),
		FinalState:    state,
		IterationsRun: snap.IterationCount,
		WorkerResult:  snap.WorkerResult,
		AuditorResult: snap.AuditorResult,
		History:       snap.History,
		ActivityLog:   logBytes,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.archiver.Write(ctx, rec); err != nil {
		e.logger.Warn("archive write failed", map[string]any{"error": err.Error()})
	}
}

func instructionFrom(d *durablectx.Context) string {
	if v, ok := d.GetVariable("instruction").(string); ok {
		return v
	}
	return ""
}

func (e *Engine) oneshotID() string { return e.durable.ToSnapshot().OneshotID }
func (e *Engine) workerName() string { return e.worker.Metadata().Name }
func (e *Engine) auditorName() string { return e.auditor.Metadata().Name }
