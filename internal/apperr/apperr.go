// Package apperr defines the error taxonomy shared by every memoryd component.
//
// Components attach a Kind at their boundary; the dispatcher turns any error
// into the {kind, message} body of a failed envelope.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind names a class of failure. The string value is what callers see.
type Kind string

const (
	ParameterMismatch     Kind = "ParameterMismatch"
	InvalidReference      Kind = "InvalidReference"
	InvalidVerdict        Kind = "InvalidVerdict"
	InvalidScore          Kind = "InvalidScore"
	AllocationUnavailable Kind = "AllocationUnavailable"
	IndexWriteFailed      Kind = "IndexWriteFailed"
	CollaboratorTimeout   Kind = "CollaboratorTimeout"
	SchemaViolation       Kind = "SchemaViolation"
	NotFound              Kind = "NotFound"
	Internal              Kind = "Internal"
)

// Collaborator names used in CollaboratorTimeout errors.
const (
	CollabEmbedding   = "embedding"
	CollabVectorIndex = "vector_index"
	CollabGraph       = "graph"
)

// Error is a classified error with an optional underlying cause.
type Error struct {
	Kind         Kind
	Message      string
	Collaborator string // set for CollaboratorTimeout
	Retryable    bool
	Cause        error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same Kind, so errors.Is(err, apperr.New(k, ""))
// works as a kind test.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error of the given kind. AllocationUnavailable and
// CollaboratorTimeout are marked retryable.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: retryable(kind)}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	e := New(kind, format, args...)
	e.Cause = cause
	return e
}

// Timeout reports that a collaborator exceeded its call bound.
func Timeout(collaborator string, cause error) *Error {
	return &Error{
		Kind:         CollaboratorTimeout,
		Message:      collaborator + " collaborator timed out",
		Collaborator: collaborator,
		Retryable:    true,
		Cause:        cause,
	}
}

func retryable(kind Kind) bool {
	return kind == AllocationUnavailable || kind == CollaboratorTimeout
}

// KindOf returns the kind of err, or Internal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Kind == kind {
				return true
			}
			err = e.Cause
			continue
		}
		return false
	}
	return false
}

// From classifies err. Already classified errors pass through unchanged.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(Internal, err, "internal error")
}

// Bounded converts a deadline hit by a collaborator call into a
// CollaboratorTimeout. parent is the caller's context: when the caller itself
// gave up, the error is returned unchanged.
func Bounded(parent context.Context, collaborator string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return Timeout(collaborator, err)
	}
	return err
}
