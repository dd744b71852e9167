// Package errs defines the broker's error taxonomy (see spec §7).
//
// Every error the execution engine raises or propagates is one of these
// kinds. The engine catches nothing it does not understand: unclassified
// errors pass through as Runtime.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the delivery handler's propagation policy.
type Kind string

const (
	// KindValidation marks malformed input, surfaced as HTTP 4xx.
	KindValidation Kind = "validation"
	// KindAgentNotFound marks a missing catalog entry for a task kind.
	KindAgentNotFound Kind = "agent_not_found"
	// KindProtocol marks an agent response that could not be parsed, or
	// carried an unknown stop reason.
	KindProtocol Kind = "protocol"
	// KindTransient marks bus, persistence, or agent HTTP I/O failures that
	// rely on upstream redelivery rather than an in-process retry.
	KindTransient Kind = "transient"
	// KindLockContention marks exhaustion of the per-correlation lock's
	// retry budget.
	KindLockContention Kind = "lock_contention"
	// KindRuntime marks anything unclassified.
	KindRuntime Kind = "runtime"
)

// Error is the concrete error type carried through the engine.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// AgentNotFound builds a KindAgentNotFound error for taskKind.
func AgentNotFound(op, taskKind string) *Error {
	return New(KindAgentNotFound, op, fmt.Errorf("no agent registered for task kind %q", taskKind))
}

// Validation wraps err as a KindValidation error.
func Validation(op string, err error) *Error {
	return New(KindValidation, op, err)
}

// Protocol wraps err as a KindProtocol error.
func Protocol(op string, err error) *Error {
	return New(KindProtocol, op, err)
}

// Transient wraps err as a KindTransient error.
func Transient(op string, err error) *Error {
	return New(KindTransient, op, err)
}

// LockContention builds a KindLockContention error for the given resource id.
func LockContention(op, id string) *Error {
	return New(KindLockContention, op, fmt.Errorf("lock contention acquiring lock for %q", id))
}

// Runtime wraps err as a KindRuntime error.
func Runtime(op string, err error) *Error {
	return New(KindRuntime, op, err)
}
