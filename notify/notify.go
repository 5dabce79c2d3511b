// Package notify defines the task-completion notification boundary.
//
// Notifiers publish a task's terminal outcome to a downstream system. The
// Engine owns notifier lifecycle; callers provide configuration only.
package notify

import "context"

// TaskCompletedEvent is the payload published when a task reaches a
// terminal state (COMPLETED, REJECTED, FAILED, INTERRUPTED).
type TaskCompletedEvent struct {
	OneshotID     string `json:"oneshot_id"`
	JobID         string `json:"job_id,omitempty"`
	State         string `json:"state"`
	IterationCount int   `json:"iteration_count"`
	WorkerResult  string `json:"worker_result,omitempty"`
	AuditorResult string `json:"auditor_result,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// Notifier publishes a task-completion event to a downstream system.
// Implementations must be safe for single-use per task.
type Notifier interface {
	// Publish sends a task-completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *TaskCompletedEvent) error

	// Close releases notifier resources.
	Close() error
}
