// Package pipeline implements the composable streaming stages that sit
// between an executor and the engine: ingest -> timestamp ->
// inactivity-guard -> log -> parse. Each stage is a lazy pull-based
// transformer wrapping the stage below it, so a failure anywhere propagates
// synchronously to the pump loop's call site.
package pipeline

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/justapithecus/oneshot/task"
)

// LineSource is the entry point for stage 1 (Ingest): anything that yields
// raw lines of executor output, in order, until exhausted or erroring.
// Next returns ok=false with err=nil at normal end of stream.
type LineSource interface {
	Next() (line string, ok bool, err error)
}

// scannerSource adapts a bufio.Scanner (typically over a subprocess's
// stdout pipe or an HTTP response body) to LineSource.
type scannerSource struct {
	scanner *bufio.Scanner
}

// NewLineSource builds a LineSource over any io.Reader-backed scanner.
func NewLineSource(scanner *bufio.Scanner) LineSource {
	return &scannerSource{scanner: scanner}
}

func (s *scannerSource) Next() (string, bool, error) {
	if s.scanner.Scan() {
		return s.scanner.Text(), true, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", false, fmt.Errorf("pipeline: stream read: %w", err)
	}
	return "", false, nil
}

// ActivityStream is a stage that yields task.ActivityEvent values.
type ActivityStream interface {
	Next() (task.ActivityEvent, bool, error)
}

// Ingest is stage 1: a LineSource viewed as-is. It exists as a named stage
// to keep the five-stage composition explicit and to give later stages a
// single entry point to wrap.
func Ingest(src LineSource) LineSource { return src }

// timestampStage is stage 2: wraps each raw line in a timestamped event.
type timestampStage struct {
	src      LineSource
	executor string
	now      func() time.Time
}

// Timestamp wraps each line from src in a task.ActivityEvent carrying the
// current time, the executor name, and is_heartbeat=false.
func Timestamp(src LineSource, executorName string, now func() time.Time) ActivityStream {
	return &timestampStage{src: src, executor: executorName, now: now}
}

func (t *timestampStage) Next() (task.ActivityEvent, bool, error) {
	line, ok, err := t.src.Next()
	if err != nil || !ok {
		return task.ActivityEvent{}, ok, err
	}
	return task.ActivityEvent{
		Timestamp:   float64(t.now().UnixNano()) / 1e9,
		Data:        line,
		Executor:    t.executor,
		IsHeartbeat: false,
	}, true, nil
}

// InactivityTimeoutError is raised when the guard's monitor observes no
// activity for longer than its configured timeout.
type InactivityTimeoutError struct {
	TimeoutSeconds float64
}

func (e *InactivityTimeoutError) Error() string {
	return fmt.Sprintf("no activity for %.1f seconds", e.TimeoutSeconds)
}

// pollInterval bounds how stale the monitor's view of last_activity can be.
const pollInterval = 500 * time.Millisecond

// Unblocker is implemented by an upstream source that can be forcibly
// closed to unblock a pending blocking read. InactivityGuard does not
// consult it; the guard takes an unblock callback instead.
type Unblocker interface {
	Unblock()
}

// InactivityGuard is stage 3. It maintains last_activity, set on entry and
// updated on every item, and runs an independent monitor goroutine that
// checks elapsed time at pollInterval. On trip, the next Next() call fails
// with *InactivityTimeoutError; if an unblock callback was supplied, it is
// called to unblock a pending blocking read.
type InactivityGuard struct {
	src            ActivityStream
	timeoutSeconds float64
	now            func() time.Time
	lastActivity   atomic.Int64 // unix nanoseconds
	poisoned       atomic.Bool
	done           chan struct{}
	unblock        func()
}

// NewInactivityGuard wraps src with an inactivity monitor. unblock, if
// non-nil, is invoked when the timeout trips so a blocking upstream read
// can be interrupted; pass nil if the upstream already supports
// per-read timeouts.
func NewInactivityGuard(src ActivityStream, timeoutSeconds float64, now func() time.Time, unblock func()) *InactivityGuard {
	g := &InactivityGuard{
		src:            src,
		timeoutSeconds: timeoutSeconds,
		now:            now,
		done:           make(chan struct{}),
		unblock:        unblock,
	}
	g.lastActivity.Store(now().UnixNano())
	go g.monitorLoop()
	return g
}

func (g *InactivityGuard) monitorLoop() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			elapsed := g.now().Sub(time.Unix(0, g.lastActivity.Load())).Seconds()
			if elapsed > g.timeoutSeconds {
				g.poisoned.Store(true)
				if g.unblock != nil {
					g.unblock()
				}
				return
			}
		}
	}
}

// Next returns the next event, or *InactivityTimeoutError if the monitor
// has tripped. The monitor is released on every exit path via Release.
func (g *InactivityGuard) Next() (task.ActivityEvent, bool, error) {
	if g.poisoned.Load() {
		return task.ActivityEvent{}, false, &InactivityTimeoutError{TimeoutSeconds: g.timeoutSeconds}
	}

	ev, ok, err := g.src.Next()
	if err != nil {
		return task.ActivityEvent{}, false, err
	}
	if !ok {
		if g.poisoned.Load() {
			return task.ActivityEvent{}, false, &InactivityTimeoutError{TimeoutSeconds: g.timeoutSeconds}
		}
		return task.ActivityEvent{}, false, nil
	}

	g.lastActivity.Store(g.now().UnixNano())
	return ev, true, nil
}

// Release stops the monitor goroutine. Callers must call Release on every
// exit path from a pump loop over the guard: normal completion, error, or
// early termination.
func (g *InactivityGuard) Release() {
	select {
	case <-g.done:
		// already closed
	default:
		close(g.done)
	}
}

// NDJSONWriter is the minimal surface the log stage needs: write one line
// (passed without its trailing newline; the writer terminates it) and
// flush it durably.
type NDJSONWriter interface {
	WriteLine(line []byte) error
}

// logStage is stage 4: appends each event as one NDJSON line and flushes,
// then passes the event through unchanged.
type logStage struct {
	src ActivityStream
	w   NDJSONWriter
}

// Log wraps src, appending each event to w as NDJSON before yielding it.
func Log(src ActivityStream, w NDJSONWriter) ActivityStream {
	return &logStage{src: src, w: w}
}

func (l *logStage) Next() (task.ActivityEvent, bool, error) {
	ev, ok, err := l.src.Next()
	if err != nil || !ok {
		return ev, ok, err
	}

	body, merr := json.Marshal(ev)
	if merr != nil {
		return task.ActivityEvent{}, false, fmt.Errorf("pipeline: marshal activity event: %w", merr)
	}
	if werr := l.w.WriteLine(body); werr != nil {
		return task.ActivityEvent{}, false, fmt.Errorf("pipeline: write activity log: %w", werr)
	}
	return ev, true, nil
}

// ParsedActivity is the structured shape stage 5 hands to the Engine.
type ParsedActivity struct {
	Timestamp   float64 `json:"timestamp"`
	Executor    string  `json:"executor,omitempty"`
	IsHeartbeat bool    `json:"is_heartbeat"`
	Data        any     `json:"data"`
}

// parseStage is stage 5: reshapes the event for Engine/UI consumption.
type parseStage struct {
	src ActivityStream
}

// Parse wraps src, yielding ParsedActivity values.
func Parse(src ActivityStream) *parseStage { return &parseStage{src: src} }

func (p *parseStage) Next() (ParsedActivity, bool, error) {
	ev, ok, err := p.src.Next()
	if err != nil || !ok {
		return ParsedActivity{}, ok, err
	}
	return ParsedActivity{
		Timestamp:   ev.Timestamp,
		Executor:    ev.Executor,
		IsHeartbeat: ev.IsHeartbeat,
		Data:        ev.Data,
	}, true, nil
}

// ValidateNDJSON scans an activity log's raw bytes and reports whether
// every non-blank line is a single well-formed JSON object, returning the
// 1-based line number of the first offender otherwise. Used by the
// dashboard to render a corrupted-log warning and by tests asserting the
// activity log never contains a malformed line.
func ValidateNDJSON(data []byte) (ok bool, badLine int) {
	for i, line := range bytes.Split(data, []byte("\n")) {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return false, i + 1
		}
		if _, isObject := v.(map[string]any); !isObject {
			return false, i + 1
		}
	}
	return true, 0
}

var jsonObjectPattern = regexp.MustCompile(`\{.*\}`)

// ExtractJSONObject attempts to find and parse a single JSON object
// embedded in s, returning the parsed value and true on success. Shared by
// the result extractor and the engine's auditor-verdict scan.
func ExtractJSONObject(s string) (map[string]any, bool) {
	match := jsonObjectPattern.FindString(s)
	if match == "" {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(match), &obj); err != nil {
		return nil, false
	}
	return obj, true
}
