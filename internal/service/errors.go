package service

import "errors"

var (
	// ErrNotFound means the draft or attachment does not exist or is not
	// visible to the caller.
	ErrNotFound = errors.New("service: not found")
	// ErrValidation wraps every input problem.
	ErrValidation = errors.New("service: validation failed")
	// ErrNotEditable is returned when fields or files change outside draft
	// and rejected status.
	ErrNotEditable = errors.New("service: record is not editable")
	// ErrInvalidTransition is returned for a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("service: invalid status transition")
	ErrForbidden         = errors.New("service: forbidden")
	ErrCapacityExceeded  = errors.New("service: attachment limit reached")
)

// Actor is the authenticated caller.
type Actor struct {
	ID       string
	Reviewer bool
}
