package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justapithecus/oneshot/iox"
	"github.com/justapithecus/oneshot/notify"
)

func testEvent() *notify.TaskCompletedEvent {
	return &notify.TaskCompletedEvent{
		OneshotID:      "task-001",
		State:          "COMPLETED",
		IterationCount: 1,
		WorkerResult:   "Stockholm",
		AuditorResult:  "DONE: matches the request",
		Timestamp:      "2026-02-07T12:00:00Z",
	}
}

func TestPublish_Success(t *testing.T) {
	var received notify.TaskCompletedEvent
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	n, err := New(Config{URL: ts.URL, Retries: 0})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(n)

	if err := n.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if received.OneshotID != "task-001" {
		t.Errorf("expected task-001, got %s", received.OneshotID)
	}
	if received.State != "COMPLETED" {
		t.Errorf("expected COMPLETED, got %s", received.State)
	}
}

func TestPublish_CustomHeaders(t *testing.T) {
	var authHeader string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	n, err := New(Config{URL: ts.URL, Headers: map[string]string{"Authorization": "Bearer xyz"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(n)

	if err := n.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if authHeader != "Bearer xyz" {
		t.Errorf("expected header to be forwarded, got %q", authHeader)
	}
}

func TestPublish_RetriesOn5xx(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	n, err := New(Config{URL: ts.URL, Retries: 3, Timeout: time.Second})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(n)

	if err := n.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestPublish_NonRetriable4xx(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	n, err := New(Config{URL: ts.URL, Retries: 3})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(n)

	if err := n.Publish(context.Background(), testEvent()); err == nil {
		t.Fatal("expected error for 4xx response")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("expected exactly 1 attempt for non-retriable error, got %d", got)
	}
}

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}
