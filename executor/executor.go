// Package executor implements the polymorphic executor that launches and
// streams one agent invocation and forensically recovers from its own
// on-disk state. The variant set is a closed two-member union (subprocess,
// direct-http): the deployment surface is fixed at build time, so a Kind
// constant plus a constructor per variant replaces an open registration
// hierarchy.
package executor

import (
	"context"

	"github.com/justapithecus/oneshot/pipeline"
	"github.com/justapithecus/oneshot/task"
)

// Kind identifies one of the two closed executor variants.
type Kind string

const (
	KindSubprocess Kind = "subprocess"
	KindDirectHTTP Kind = "direct_http"
)

// Metadata describes one executor's capabilities, consumed by the registry
// and the engine.
type Metadata struct {
	Name                   string
	Kind                   Kind
	CapturesGit            bool
	SupportsModelSelection bool
}

// Stream is the scoped handle returned by Execute. Next yields output
// lines in generation order; Close guarantees the underlying process or
// HTTP connection is terminated (terminate, then force-kill after a
// bounded grace period) and all file descriptors released, regardless of
// which exit path triggered it. Close is idempotent and safe to call
// after normal stream exhaustion.
type Stream interface {
	pipeline.LineSource
	Close() error
}

// LaunchError reports that the underlying binary or endpoint could not be
// reached at all, distinct from a failure mid-stream.
type LaunchError struct {
	Executor string
	Err      error
}

func (e *LaunchError) Error() string {
	return "executor " + e.Executor + ": launch failed: " + e.Err.Error()
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Executor is implemented by each of the two closed variants.
type Executor interface {
	// Execute starts the underlying process or opens the HTTP stream and
	// returns a scoped Stream. Callers MUST call Stream.Close on every
	// exit path and MUST NOT retain the Stream after doing so.
	Execute(ctx context.Context, prompt string) (Stream, error)
	// Recover performs a side-effect-free forensic read of whatever
	// on-disk state the agent left behind from a prior, now-dead run.
	Recover(ctx context.Context, taskID string) (task.RecoveryResult, error)
	// Metadata describes this executor's capabilities.
	Metadata() Metadata
}
