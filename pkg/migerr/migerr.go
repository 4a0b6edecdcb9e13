// Package migerr defines the single tagged error type the live migration
// core surfaces to callers. Every component operation returns either success
// or exactly one Kind.
package migerr

import "github.com/pkg/errors"

// Kind tags the category of failure along the migration pipeline.
type Kind string

const (
	PlanInvalid        Kind = "PlanInvalid"
	DuplicateSource    Kind = "DuplicateSource"
	DuplicateTarget    Kind = "DuplicateTarget"
	CyclicPlan         Kind = "CyclicPlan"
	CheckpointFailed   Kind = "CheckpointFailed"
	FreezeFailed       Kind = "FreezeFailed"
	SnapshotFailed     Kind = "SnapshotFailed"
	TransformFailed    Kind = "TransformFailed"
	RewriteFailed      Kind = "RewriteFailed"
	SmokeFailed        Kind = "SmokeFailed"
	RestoreDidNotOccur Kind = "RestoreDidNotOccur"
	RestoreUnsupported Kind = "RestoreUnsupported"
)

// Error is the uniform error surfaced by every component in the migration
// core. It carries a Kind for programmatic dispatch and an optional Cause
// for the underlying failure (read with errors.Unwrap).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap lets errors.Is/errors.As see through to the underlying cause.
// pkg/errors.Cause does not follow Unwrap and stops at the *Error itself.
func (e *Error) Unwrap() error { return e.Cause }

// New builds a Kind-tagged error with no further cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap tags cause with kind, preserving the original error as the chain
// root. The message is attached once, by Error(); callers must not repeat
// it when formatting cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf extracts the Kind of err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}
