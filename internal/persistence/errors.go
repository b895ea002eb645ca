package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConflict is returned when an optimistic version check fails.
	ErrConflict = errors.New("persistence: version conflict")
)
