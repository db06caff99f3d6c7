package llm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a provider failure into the small set spec §6.1
// recognizes.
type ErrorKind string

const (
	ErrorKindTransport      ErrorKind = "TRANSPORT"
	ErrorKindRateLimited    ErrorKind = "RATE_LIMITED"
	ErrorKindInvalidRequest ErrorKind = "INVALID_REQUEST"
	ErrorKindTimeout        ErrorKind = "TIMEOUT"
	ErrorKindUnknown        ErrorKind = "UNKNOWN"
)

// ProviderError is the uniform shape every llm adapter surfaces, so the
// Fallback Manager's error dispatch never string-matches provider-specific
// errors (SPEC_FULL §5 "Provider error classification").
type ProviderError struct {
	Provider  string
	Operation string
	Kind      ErrorKind
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

// NewProviderError constructs a ProviderError. provider and kind are required.
func NewProviderError(provider, operation string, kind ErrorKind, code, message string, retryable bool, cause error) *ProviderError {
	if provider == "" {
		panic("llm: provider is required")
	}
	if kind == "" {
		panic("llm: provider error kind is required")
	}
	return &ProviderError{Provider: provider, Operation: operation, Kind: kind, Code: code, Message: message, Retryable: retryable, Cause: cause}
}

func (e *ProviderError) Error() string {
	op := e.Operation
	if op == "" {
		op = "request"
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if msg == "" {
		msg = "provider error"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s %s (%s): %s: %s", e.Provider, e.Kind, op, e.Code, msg)
	}
	return fmt.Sprintf("%s %s (%s): %s", e.Provider, e.Kind, op, msg)
}

// Unwrap preserves the original error chain.
func (e *ProviderError) Unwrap() error { return e.Cause }

// AsProviderError returns the first ProviderError in err's chain, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
