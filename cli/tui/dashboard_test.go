package tui

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/oneshot/task"
)

func TestReadSnapshot_HealthyLog(t *testing.T) {
	dir := t.TempDir()
	rec := task.NewRecord("oneshot-1", 5, "do the thing", time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC))
	rec.State = task.StateWorkerExecuting
	writeContext(t, dir, rec)
	writeActivityLog(t, dir, "{\"timestamp\":1.0,\"data\":\"a\"}\n{\"timestamp\":2.0,\"data\":\"b\"}\n")

	now := func() time.Time { return time.Date(2026, 7, 29, 9, 5, 0, 0, time.UTC) }
	snap, err := ReadSnapshot(filepath.Join(dir, "context.json"), filepath.Join(dir, "activity.ndjson"), now)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if snap.Record.OneshotID != "oneshot-1" {
		t.Errorf("expected oneshot id to round-trip, got %q", snap.Record.OneshotID)
	}
	if snap.ActivityLines != 2 {
		t.Errorf("expected 2 activity lines, got %d", snap.ActivityLines)
	}
	if snap.LogCorrupted {
		t.Error("expected healthy log to not be flagged corrupted")
	}
}

func TestReadSnapshot_CorruptedLog(t *testing.T) {
	dir := t.TempDir()
	rec := task.NewRecord("oneshot-2", 5, "do the thing", time.Now())
	writeContext(t, dir, rec)
	writeActivityLog(t, dir, "{\"timestamp\":1.0,\"data\":\"a\"}\nnot json\n")

	snap, err := ReadSnapshot(filepath.Join(dir, "context.json"), filepath.Join(dir, "activity.ndjson"), time.Now)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if !snap.LogCorrupted {
		t.Fatal("expected malformed log line to be flagged corrupted")
	}
	if snap.LogBadLine != 2 {
		t.Errorf("expected bad line 2, got %d", snap.LogBadLine)
	}
}

func TestReadSnapshot_MissingActivityLog(t *testing.T) {
	dir := t.TempDir()
	rec := task.NewRecord("oneshot-3", 5, "do the thing", time.Now())
	writeContext(t, dir, rec)

	snap, err := ReadSnapshot(filepath.Join(dir, "context.json"), filepath.Join(dir, "activity.ndjson"), time.Now)
	if err != nil {
		t.Fatalf("expected a missing activity log to be tolerated, got %v", err)
	}
	if snap.ActivityLines != 0 {
		t.Errorf("expected 0 activity lines for a missing log, got %d", snap.ActivityLines)
	}
}

func TestReadSnapshot_MissingContext(t *testing.T) {
	dir := t.TempDir()
	if _, err := ReadSnapshot(filepath.Join(dir, "context.json"), filepath.Join(dir, "activity.ndjson"), time.Now); err == nil {
		t.Fatal("expected an error reading a missing context file")
	}
}

func TestStateStyle(t *testing.T) {
	cases := []struct {
		state string
		want  lipgloss.TerminalColor
	}{
		{"COMPLETED", successColor},
		{"FAILED", errorColor},
		{"REJECTED", errorColor},
		{"INTERRUPTED", errorColor},
		{"WORKER_EXECUTING", warningColor},
	}
	for _, c := range cases {
		if got := StateStyle(c.state).GetForeground(); got != c.want {
			t.Errorf("state %q: foreground = %v, want %v", c.state, got, c.want)
		}
	}
}

func TestFormatElapsed(t *testing.T) {
	now := time.Date(2026, 7, 29, 9, 5, 0, 0, time.UTC)

	if got := formatElapsed(time.Time{}, now); got != "never" {
		t.Errorf("expected zero timestamp to render as never, got %q", got)
	}

	ts := now.Add(-90 * time.Second)
	if got := formatElapsed(ts, now); got != "1m30s ago" {
		t.Errorf("expected elapsed duration string, got %q", got)
	}
}

func writeContext(t *testing.T, dir string, rec *task.Record) {
	t.Helper()
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "context.json"), data, 0o644); err != nil {
		t.Fatalf("write context: %v", err)
	}
}

func writeActivityLog(t *testing.T, dir, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "activity.ndjson"), []byte(contents), 0o644); err != nil {
		t.Fatalf("write activity log: %v", err)
	}
}
