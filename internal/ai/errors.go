package ai

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrEmptyPrompt     = errors.New("prompt is required")
	ErrNoOutputs       = errors.New("at least one output variable is required")
	ErrNoJSON          = errors.New("model reply contained no JSON object")
	ErrCompletionFalse = errors.New("completion endpoint reported failure")
)

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError represents a permanent error that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }
func (e *FatalError) Unwrap() error { return e.err }

func NewFatalError(err error) error {
	return &FatalError{err: err}
}

func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// classifyStatus maps an HTTP failure onto the retry classes. Rate limits
// and server errors are retried, every other status is final.
func classifyStatus(statusCode int, body []byte) error {
	text := string(body)
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	err := fmt.Errorf("status %d: %s", statusCode, text)

	switch {
	case statusCode == http.StatusTooManyRequests, statusCode >= 500:
		return NewTransientError(err)
	default:
		return NewFatalError(err)
	}
}
