package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidParameter marks a generation parameter that cannot be coerced
	// to the type the backend expects.
	ErrInvalidParameter = errors.New("invalid generation parameter")
	// ErrNotConfigured is returned by a factory whose backend lacks credentials.
	ErrNotConfigured   = errors.New("provider not configured")
	ErrUnknownProvider = errors.New("unknown ai provider")
)

// Error is a failed call to a backend. Message is human readable and safe to
// return to API callers.
type Error struct {
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func statusError(provider string, status int, msg string) *Error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Error{
		Provider:   provider,
		StatusCode: status,
		Message:    msg,
		Retryable:  status == http.StatusTooManyRequests || status >= 500,
	}
}

func transportError(provider string, err error) *Error {
	retryable := !errors.Is(err, context.Canceled)
	return &Error{Provider: provider, Message: err.Error(), Retryable: retryable, Err: err}
}
