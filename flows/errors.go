package flows

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies a failure so callers can decide whether to re-consent, fix input or retry.
type Code string

const (
	CodeAuthorization Code = "AUTHORIZATION"
	CodeValidation    Code = "VALIDATION"
	CodeNotFound      Code = "NOT_FOUND"
	CodeTransient     Code = "TRANSIENT"
	CodeConflict      Code = "CONFLICT"
	CodeTimeout       Code = "TIMEOUT"
	CodeConfig        Code = "CONFIG"
)

// Error is the error type returned by runners and remote clients.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithCause returns a copy of e wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	out := *e
	out.Cause = cause
	return &out
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Authorizationf reports a missing or expired credential; the user must consent again.
func Authorizationf(format string, args ...any) *Error {
	return newError(CodeAuthorization, format, args...)
}

func Validationf(format string, args ...any) *Error {
	return newError(CodeValidation, format, args...)
}

func NotFoundf(format string, args ...any) *Error {
	return newError(CodeNotFound, format, args...)
}

// Transientf reports a call that did not complete; the same call may be retried.
func Transientf(format string, args ...any) *Error {
	out := newError(CodeTransient, format, args...)
	out.Retryable = true
	return out
}

func Conflictf(format string, args ...any) *Error {
	return newError(CodeConflict, format, args...)
}

func Timeoutf(format string, args ...any) *Error {
	return newError(CodeTimeout, format, args...)
}

func Configf(format string, args ...any) *Error {
	return newError(CodeConfig, format, args...)
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	target, ok := As(err)
	return ok && target.Code == code
}

// IsRetryable reports whether the failed call can be issued again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	target, ok := As(err)
	return ok && target.Retryable
}

// RunFailedError is returned by strict waiters when a run ends in FAILED or CANCELED.
type RunFailedError struct {
	Handle *RunHandle
}

func (e *RunFailedError) Error() string {
	if e == nil || e.Handle == nil {
		return "run did not succeed"
	}
	return e.Handle.Describe() + " did not succeed"
}
