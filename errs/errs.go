// Package errs defines the structured error taxonomy consumed and surfaced
// by every component of the orchestration runtime (spec §7). Errors carry a
// stable Kind so the Fallback Manager can dispatch on behavior rather than
// string-matching messages, while still preserving causal chains through
// Unwrap for errors.Is/As.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a runtime error into one of the categories the Fallback
// Manager and callers reason about. New kinds are added deliberately; the
// set is meant to stay small and closed.
type Kind string

const (
	// KindTransport indicates an LLM/tool/storage network failure.
	KindTransport Kind = "transport"
	// KindTimeout indicates a deadline was exceeded.
	KindTimeout Kind = "timeout"
	// KindRateLimited indicates the provider is throttling requests.
	KindRateLimited Kind = "rate_limited"
	// KindInvalidOutput indicates an unparseable model response.
	KindInvalidOutput Kind = "invalid_output"
	// KindInvalidParameters indicates a tool schema validation failure.
	KindInvalidParameters Kind = "invalid_parameters"
	// KindUnknownTool indicates a tool name not present in the registry.
	KindUnknownTool Kind = "unknown_tool"
	// KindUnauthorized indicates a caller attempted an action outside its
	// allow-list or credentials.
	KindUnauthorized Kind = "unauthorized"
	// KindCircuitOpen indicates a circuit breaker rejected the call without
	// contacting the underlying component.
	KindCircuitOpen Kind = "circuit_open"
	// KindNotFound indicates a requested entity does not exist.
	KindNotFound Kind = "not_found"
	// KindConflictResolved is informational: a memory write was merged into
	// an existing record rather than creating a new one.
	KindConflictResolved Kind = "conflict_resolved"
	// KindDegradedResult is informational: a result was produced by a
	// degraded-mode handler rather than the primary path.
	KindDegradedResult Kind = "degraded_result"
	// KindInternal indicates an unclassified internal failure.
	KindInternal Kind = "internal"
)

// Error is the structured error type threaded through the runtime. Message
// is the human-readable summary; Cause links to the wrapped error (which may
// itself be an *Error) so errors.Is/As walks the full chain.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Cause     error
}

// New constructs an Error of the given kind with no wrapped cause.
func New(kind Kind, component, message string) *Error {
	if message == "" {
		message = string(kind)
	}
	return &Error{Kind: kind, Component: component, Message: message}
}

// Wrap constructs an Error of the given kind that wraps cause. If message is
// empty, cause's message is reused.
func Wrap(kind Kind, component, message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Component: component, Message: message, Cause: cause}
}

// Errorf formats a message and returns it as an Error of the given kind.
func Errorf(kind Kind, component, format string, args ...any) *Error {
	return New(kind, component, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Component != "" {
		return fmt.Sprintf("%s: %s: %s", e.Component, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, enabling errors.Is/As to traverse chains
// built from both *Error and ordinary errors.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, letting callers
// write errors.Is(err, errs.New(errs.KindTimeout, "", "")).
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return te.Kind == e.Kind
}

// As reports the Kind of err, walking the error chain. ok is false when no
// *Error is found.
func As(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Retryable reports whether err's Kind typically benefits from a retry
// (transport hiccups, timeouts, and rate limiting). Invalid input, unknown
// tools, and authorization failures are never retryable.
func Retryable(err error) bool {
	kind, ok := As(err)
	if !ok {
		return false
	}
	switch kind {
	case KindTransport, KindTimeout, KindRateLimited:
		return true
	default:
		return false
	}
}
