package pipeline

import (
	"errors"
	"fmt"
)

// ErrScorerUnavailable signals that the model backend is down or timed
// out. The ensemble degrades to rule-only classification on this error;
// it never blocks the pipeline.
var ErrScorerUnavailable = errors.New("model scorer unavailable")

// ErrNotFound is returned by stores for unknown identifiers.
var ErrNotFound = errors.New("not found")

// FetchError wraps a failed fetch attempt. Transient errors are retried
// with backoff up to the frontier's cap; permanent ones are not.
type FetchError struct {
	Identifier string
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s fetch failure for %s: %v", kind, e.Identifier, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TransientFetch builds a retryable FetchError.
func TransientFetch(identifier string, err error) *FetchError {
	return &FetchError{Identifier: identifier, Transient: true, Err: err}
}

// PermanentFetch builds a non-retryable FetchError.
func PermanentFetch(identifier string, err error) *FetchError {
	return &FetchError{Identifier: identifier, Transient: false, Err: err}
}

// IsTransientFetch reports whether err is a retryable fetch failure.
func IsTransientFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient
}

// IsPermanentFetch reports whether err is a terminal fetch failure.
func IsPermanentFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && !fe.Transient
}

// StoreWriteError marks a persistence failure. The worker rolls the
// target back to pending so it is retried instead of silently lost.
type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write failed during %s: %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// IsStoreWrite reports whether err is a persistence failure.
func IsStoreWrite(err error) bool {
	var se *StoreWriteError
	return errors.As(err, &se)
}
