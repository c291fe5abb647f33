package es

import (
	"errors"
	"fmt"
)

var (
	ErrNoEvents         = errors.New("no events to append")
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// ValidationError reports a malformed or incomplete event. It is never
// retried and is surfaced to the caller synchronously.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s %s", e.Field, e.Reason)
}

// ConflictError reports an expected-version mismatch on append. It
// carries the stream's actual current version so the caller can re-read
// and recompute; retrying with the same expected version cannot succeed.
type ConflictError struct {
	AggregateID string
	Expected    Version
	Current     Version
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"concurrency conflict on %s: expected version %d, current is %d",
		e.AggregateID, e.Expected, e.Current,
	)
}

// TransientError reports a storage or network hiccup that may succeed on
// retry. It wraps the underlying cause.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NotFoundError reports a read against an unknown aggregate or event.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}
