package source

import (
	"errors"
	"fmt"
	"time"
)

// Error types for classifying upstream lookup failures.

// ErrNotFound signals a definitive no-match from a source. It is a
// cacheable outcome, not a failure.
var ErrNotFound = errors.New("concept not found")

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError represents a permanent error that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// RateLimitedError represents an explicit throttling signal from a
// source. RetryAfter carries the upstream-provided delay, zero when the
// source did not specify one.
type RateLimitedError struct {
	err        error
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return e.err.Error()
}

func (e *RateLimitedError) Unwrap() error {
	return e.err
}

// NewRateLimitedError wraps an error as an upstream throttling signal.
func NewRateLimitedError(err error, retryAfter time.Duration) error {
	return &RateLimitedError{err: err, RetryAfter: retryAfter}
}

// SanityError records a candidate whose own label did not plausibly
// match the query. It unwraps to ErrNotFound so the result is cached
// and resolution falls through to the next source, while the log keeps
// the mismatch for later curation.
type SanityError struct {
	Source string
	Query  string
	Got    string
}

func (e *SanityError) Error() string {
	return fmt.Sprintf("%s: label %q does not plausibly match query %q", e.Source, e.Got, e.Query)
}

func (e *SanityError) Unwrap() error {
	return ErrNotFound
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// IsRateLimited returns true with the signaled delay if the error is an
// upstream throttling signal.
func IsRateLimited(err error) (time.Duration, bool) {
	var limited *RateLimitedError
	if errors.As(err, &limited) {
		return limited.RetryAfter, true
	}
	return 0, false
}

// IsNotFound returns true if the error represents a definitive
// no-match, including sanity-check rejections.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
