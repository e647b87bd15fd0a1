package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by all store implementations.
var (
	// ErrNotFound is matched by NotFoundError; kept as a sentinel so
	// callers can use errors.Is without knowing the entity type.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is matched by VersionConflictError.
	ErrVersionConflict = errors.New("version conflict")

	// ErrDuplicateKey is returned when inserting a record whose key
	// already exists. Append-only stores do not allow updates.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyDecided is returned when a terminal decision is asked
	// to transition again. The decision package wraps this with
	// transition context.
	ErrAlreadyDecided = errors.New("decision already terminal")

	// ErrTraceCompleted is returned when appending to or completing a
	// trace that has already been completed.
	ErrTraceCompleted = errors.New("execution trace already completed")
)

// NotFoundError carries enough context (entity kind, id, version) for
// the caller to re-issue a corrected request. Version is zero for
// unversioned entities.
type NotFoundError struct {
	Entity  string
	ID      string
	Version int
}

func (e *NotFoundError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("%s %s@v%d: not found", e.Entity, e.ID, e.Version)
	}
	return fmt.Sprintf("%s %s: not found", e.Entity, e.ID)
}

// Is makes errors.Is(err, ErrNotFound) match any NotFoundError.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// VersionConflictError is returned when a write targets a stale
// version of a versioned chain. The caller must re-read and retry;
// conflicting writes are never silently merged.
type VersionConflictError struct {
	Entity  string
	ID      string
	Version int // the version the write attempted to create
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("%s %s@v%d: concurrent modification, re-read and retry", e.Entity, e.ID, e.Version)
}

// Is makes errors.Is(err, ErrVersionConflict) match any VersionConflictError.
func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }
