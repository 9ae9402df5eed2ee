package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// TransientError is a temporary failure that may succeed on retry within
// the same tier.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps err as transient.
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError is a permanent failure that retrying will not fix.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps err as fatal.
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal reports whether err is permanent.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// classifyStatus wraps a provider error according to its HTTP status.
func classifyStatus(provider string, status int, err error) error {
	wrapped := fmt.Errorf("%s API error (status %d): %w", provider, status, err)
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return NewTransientError(wrapped)
	case status >= 500:
		// 529 overloaded included
		return NewTransientError(wrapped)
	default:
		return NewFatalError(wrapped)
	}
}

// classifyTransport wraps errors that carry no HTTP status. Context errors
// are returned unchanged so callers can tell timeouts from cancellation.
func classifyTransport(provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return NewTransientError(fmt.Errorf("%s request: %w", provider, err))
}
