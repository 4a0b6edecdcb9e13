// Package checkpoint implements the rollback primitive the migration engine
// brackets its critical phase with.
package checkpoint

import "github.com/graftwork/livemigrate/pkg/migerr"

// Controller is the rollback primitive exposed to the engine. Its methods
// are thread-confined to the engine's single dedicated thread.
type Controller interface {
	// Checkpoint creates a restorable snapshot of process state. Returns a
	// *migerr.Error tagged CheckpointFailed on failure, or nil on success.
	// A controller that cannot checkpoint at all should still return nil
	// here and fail Restore with RestoreUnsupported instead, matching the
	// Noop contract below.
	Checkpoint() error

	// DeleteCheckpoint discards the checkpoint. Idempotent and best-effort:
	// callers may log a non-nil error but must not treat it as fatal.
	DeleteCheckpoint() error

	// Restore never normally returns: execution resumes at the checkpoint.
	// A genuine non-local restore
	// signals success by panicking RestoreSignal (see Restored below)
	// rather than returning; the engine recovers exactly that panic and
	// treats it as a completed rollback. If Restore returns at all, the
	// engine treats that as a failure: a nil error means
	// migerr.RestoreDidNotOccur (restore should have preempted the
	// return), a non-nil error is surfaced as-is (typically
	// migerr.RestoreUnsupported).
	Restore() error
}

// RestoreSignal is the panic value a Controller.Restore implementation
// raises to indicate a successful restore. Panicking rather than returning
// models the non-local transfer of control a real restore performs: code
// after the Restore() call site is never meant to run once restore has
// actually happened. Only the engine recovers this specific value; any
// other panic propagates.
type RestoreSignal struct{}

// Restored panics with RestoreSignal. Call it as the last step of a
// Controller.Restore implementation that has finished putting the process
// back into its pre-migration state.
func Restored() {
	panic(RestoreSignal{})
}

// Noop is always available: Checkpoint succeeds, DeleteCheckpoint is a
// no-op, and Restore always fails with RestoreUnsupported. This lets the
// engine run without rollback capability.
type Noop struct{}

func (Noop) Checkpoint() error       { return nil }
func (Noop) DeleteCheckpoint() error { return nil }
func (Noop) Restore() error {
	return migerr.New(migerr.RestoreUnsupported, "noop checkpoint controller cannot restore")
}
