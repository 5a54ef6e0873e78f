package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist (or a conditional
	// update found no matching row).
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a uniqueness constraint was violated.
	ErrConflict = errors.New("repository: conflict")
)
