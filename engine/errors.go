package engine

import "errors"

// Kind classifies why one Engine operation failed: a closed domain-error
// enum plus Is*-style predicates covering the Worker/Auditor execution
// failure modes.
type Kind string

const (
	LaunchErrorKind        Kind = "launch_error"
	InactivityTimeoutKind  Kind = "inactivity_timeout"
	StreamErrorKind        Kind = "stream_error"
	VerdictUnparseableKind Kind = "verdict_unparseable"
	PersistErrorKind       Kind = "persist_error"
	RecoveryEmptyKind      Kind = "recovery_empty"
	InterruptedKind        Kind = "interrupted"
	MaxIterationsKind      Kind = "max_iterations"
)

// Error wraps an underlying failure with its Kind, so callers can branch
// with errors.Is/As without depending on a specific concrete type.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "engine: " + string(e.Kind)
	}
	return "engine: " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func isKind(err error, kind Kind) bool {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Kind == kind
	}
	return false
}

func IsLaunchError(err error) bool        { return isKind(err, LaunchErrorKind) }
func IsInactivityTimeout(err error) bool  { return isKind(err, InactivityTimeoutKind) }
func IsStreamError(err error) bool        { return isKind(err, StreamErrorKind) }
func IsVerdictUnparseable(err error) bool { return isKind(err, VerdictUnparseableKind) }
func IsPersistError(err error) bool       { return isKind(err, PersistErrorKind) }
func IsRecoveryEmpty(err error) bool      { return isKind(err, RecoveryEmptyKind) }
func IsInterrupted(err error) bool        { return isKind(err, InterruptedKind) }
func IsMaxIterations(err error) bool      { return isKind(err, MaxIterationsKind) }
