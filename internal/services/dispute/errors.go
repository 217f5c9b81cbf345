package dispute

import "errors"

// Service errors
var (
	ErrDisputeNotFound      = errors.New("dispute not found")
	ErrMilestoneNotFound    = errors.New("milestone not found")
	ErrDisputeAlreadyExists = errors.New("milestone already has an open dispute")
	ErrInvalidState         = errors.New("operation not legal in current dispute state")
	ErrInvalidEscalation    = errors.New("disputes only escalate forward")
	ErrUnauthorized         = errors.New("actor not permitted for this operation")
	ErrValidation           = errors.New("validation failed")
	// ErrResolutionMismatch means the split does not account for the exact
	// milestone amount; no funds move.
	ErrResolutionMismatch = errors.New("resolution amounts must sum to the milestone amount")
)
