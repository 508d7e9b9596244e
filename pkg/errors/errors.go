// Package errors defines the error-kind taxonomy shared by every
// component of the execution substrate, and a small AppError carrier
// so call sites can classify an error without string matching.
package errors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories named by the error
// handling design: what propagation policy applies to an error is a
// function of its Kind, not of its message text.
type Kind string

const (
	KindProtocol     Kind = "protocol_error"
	KindTransport    Kind = "transport_error"
	KindAuth         Kind = "auth_error"
	KindRateLimited  Kind = "rate_limited"
	KindDepthExceeded Kind = "depth_exceeded"
	KindTimeout      Kind = "timeout"
	KindSandbox      Kind = "sandbox_error"
	KindExecution    Kind = "execution_error"
	KindBudgetExceeded Kind = "budget_exceeded"
	KindCancelled    Kind = "cancelled"
	KindInternal     Kind = "internal_error"
)

// Retryable reports whether C2 should retry an error of this kind.
// TransportError and RateLimited are the only retryable kinds; every
// other kind is surfaced to the caller on first occurrence.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransport, KindRateLimited:
		return true
	default:
		return false
	}
}

// AppError carries a Kind plus context (provider/model, when relevant)
// and wraps the underlying cause.
type AppError struct {
	Kind       Kind
	Message    string
	Provider   string
	Model      string
	StatusCode int
	RetryAfter float64 // seconds, from a provider's Retry-After hint; 0 if absent
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// Retryable is a convenience that matches the Kind's own Retryable rule.
func (e *AppError) Retryable() bool { return e.Kind.Retryable() }

func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: cause}
}

func Protocol(message string) *AppError { return New(KindProtocol, message) }
func Transport(message string, cause error) *AppError {
	return Wrap(KindTransport, message, cause)
}
func Auth(message string) *AppError     { return New(KindAuth, message) }
func DepthExceeded(message string) *AppError {
	return New(KindDepthExceeded, message)
}
func Timeout(message string) *AppError  { return New(KindTimeout, message) }
func Sandbox(message string, cause error) *AppError {
	return Wrap(KindSandbox, message, cause)
}
func Execution(message string) *AppError { return New(KindExecution, message) }
func BudgetExceeded(message string) *AppError {
	return New(KindBudgetExceeded, message)
}
func Cancelled(message string) *AppError { return New(KindCancelled, message) }

func RateLimited(message string, retryAfter float64) *AppError {
	return &AppError{Kind: KindRateLimited, Message: message, RetryAfter: retryAfter}
}

// Of extracts the Kind of err, defaulting to KindInternal when err does
// not carry one.
func Of(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}

// IsRetryable reports whether err should be retried by C2's retry loop.
func IsRetryable(err error) bool {
	return Of(err).Retryable()
}
