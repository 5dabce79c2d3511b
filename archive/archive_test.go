package archive

import (
	"context"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/oneshot/task"
)

func TestDeriveDay(t *testing.T) {
	ts := time.Date(2026, 3, 5, 23, 0, 0, 0, time.UTC)
	if got, want := DeriveDay(ts), "2026-03-05"; got != want {
		t.Fatalf("DeriveDay() = %q, want %q", got, want)
	}
}

func TestArchiverWrite(t *testing.T) {
	a, err := New(DefaultDataset, lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result := "Stockholm"
	snap := task.Record{
		OneshotID:      "task-1",
		State:          task.StateCompleted,
		IterationCount: 0,
		WorkerResult:   &result,
		History: []task.HistoryEntry{
			{State: task.StateCreated, TS: time.Now()},
			{State: task.StateCompleted, TS: time.Now()},
		},
	}

	rec := BuildRecord(snap, "claude_code", []byte(`{"data":"done"}`+"\n"), time.Now())
	if rec.OneshotID != "task-1" {
		t.Fatalf("BuildRecord: oneshot_id = %q, want task-1", rec.OneshotID)
	}

	if err := a.Write(context.Background(), rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
}
