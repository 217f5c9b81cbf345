package project

import "errors"

// Service errors
var (
	ErrValidation             = errors.New("validation failed")
	ErrInvalidTransition      = errors.New("operation not legal in current state")
	ErrUnauthorized           = errors.New("actor not permitted for this operation")
	ErrConcurrentModification = errors.New("concurrent modification, retry with current state")
	ErrRevisionLimitExceeded  = errors.New("revision limit exceeded")
	ErrDisputePending         = errors.New("an open dispute pre-empts this operation")
	ErrBudgetMismatch         = errors.New("milestone amounts do not sum to the project budget")
	ErrProjectNotFound        = errors.New("project not found")
	ErrMilestoneNotFound      = errors.New("milestone not found")
	// ErrIntegrityViolation means an escrow summary invariant failed; it is
	// surfaced for operator intervention, never silently corrected.
	ErrIntegrityViolation = errors.New("escrow integrity violation")
)
