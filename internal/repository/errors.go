package repository

import "errors"

var (
	// ErrNotFound means the target row does not exist.
	ErrNotFound = errors.New("repository: record not found")
	// ErrConflict means the row exists but is not in a state that allows the write.
	ErrConflict = errors.New("repository: record state conflict")
)
