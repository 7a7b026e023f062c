package store

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is a transient failure (lock timeout, deadlock, serialization
	// failure). Retrying the whole operation is safe.
	ErrConflict = errors.New("conflict")
	// ErrDuplicateSlot reports that another transaction owns the
	// (provider, service, start) key the caller tried to insert.
	ErrDuplicateSlot = errors.New("duplicate slot")
	// ErrStaleSlot reports a version-guarded slot update that matched no row.
	ErrStaleSlot = errors.New("stale slot version")
	// ErrOverlap reports that committing would leave two claimed slots of the
	// same provider and service overlapping.
	ErrOverlap = errors.New("overlapping slot")
)
