package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/vmstate/internal/event"
	"github.com/roach88/vmstate/internal/gccodes"
	"github.com/roach88/vmstate/internal/history"
)

// RuntimeError is an error raised while dispatching one event.
//
// Runtime errors fall in two classes:
//   - Fatal: the session's history can no longer be trusted and the replay
//     aborts (ordering violations, unknown GC codes, events after Close)
//   - Recoverable: only the offending event is dropped (missing or
//     ill-typed fields)
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Kind is the event kind as it appeared on the wire.
	Kind string

	// Seq is the 1-based position of the event in the session.
	Seq int64

	// Timestamp is the event timestamp.
	Timestamp int64

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeOrderingViolation indicates a mutation earlier than the
	// attribute's latest mutation.
	ErrCodeOrderingViolation RuntimeErrorCode = "ORDERING_VIOLATION"

	// ErrCodeUnknownGCCode indicates a GC report with a code outside the
	// collector table.
	ErrCodeUnknownGCCode RuntimeErrorCode = "UNKNOWN_GC_CODE"

	// ErrCodeMissingField indicates a field the kind requires is missing or
	// has the wrong type.
	ErrCodeMissingField RuntimeErrorCode = "MISSING_FIELD"

	// ErrCodeSessionClosed indicates an event handled after Close.
	ErrCodeSessionClosed RuntimeErrorCode = "SESSION_CLOSED"

	// ErrCodeInternal wraps any other failure.
	ErrCodeInternal RuntimeErrorCode = "INTERNAL"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %s (kind=%s, seq=%d, ts=%d)", e.Code, e.Message, e.Kind, e.Seq, e.Timestamp)
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error must abort the session.
func (e *RuntimeError) Fatal() bool {
	switch e.Code {
	case ErrCodeOrderingViolation, ErrCodeUnknownGCCode, ErrCodeSessionClosed, ErrCodeInternal:
		return true
	default:
		return false
	}
}

// classify wraps a recipe or apply failure into a RuntimeError.
func classify(err error, ev event.Event, seq int64) *RuntimeError {
	re := &RuntimeError{
		Message:   err.Error(),
		Kind:      ev.Kind,
		Seq:       seq,
		Timestamp: ev.Timestamp,
		Err:       err,
	}

	var oe *history.OrderingError
	var fe *event.FieldError
	switch {
	case errors.As(err, &oe):
		re.Code = ErrCodeOrderingViolation
	case errors.Is(err, gccodes.ErrUnknownCode):
		re.Code = ErrCodeUnknownGCCode
	case errors.Is(err, history.ErrClosed):
		re.Code = ErrCodeSessionClosed
	case errors.As(err, &fe):
		re.Code = ErrCodeMissingField
	default:
		re.Code = ErrCodeInternal
	}
	return re
}

// IsFatal returns true if err aborts a replay.
// Uses errors.As to handle wrapped errors.
func IsFatal(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Fatal()
	}
	return false
}

// IsOrderingError returns true if err is an ordering violation.
func IsOrderingError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeOrderingViolation
	}
	var oe *history.OrderingError
	return errors.As(err, &oe)
}

// IsUnknownGCCodeError returns true if err is an unknown GC code error.
func IsUnknownGCCodeError(err error) bool {
	return errors.Is(err, gccodes.ErrUnknownCode)
}

// IsFieldError returns true if err is a missing or ill-typed field error.
func IsFieldError(err error) bool {
	var fe *event.FieldError
	return errors.As(err, &fe)
}
