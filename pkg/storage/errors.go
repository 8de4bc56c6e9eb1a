package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a project does not exist or belongs to
	// another tenant.
	ErrNotFound = errors.New("project not found")

	// ErrConflict is returned when a project with the given ID already exists.
	ErrConflict = errors.New("project already exists")
)
