package crowd

import "errors"

// Simulation errors are never fatal: the affected agent logs, raises an error
// notification, and falls back to a safe state while the rest of the crowd
// keeps ticking. Callers match with errors.Is.
var (
	// ErrMissingAsset marks a reference to a path, node, archetype or state
	// key that the bound library does not contain.
	ErrMissingAsset = errors.New("missing asset")

	// ErrResourceUnavailable marks an attempt to claim an occupied counter or
	// join a full line.
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrInconsistentState marks internal contract violations, such as
	// resuming an empty interruption stack.
	ErrInconsistentState = errors.New("inconsistent state")
)
