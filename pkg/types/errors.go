package types

import "errors"

// Validation errors raised at the client call boundary, before a command
// reaches the broker.
var (
	ErrInvalidOp          = errors.New("unknown command operation")
	ErrMissingRoom        = errors.New("room is required")
	ErrMissingSender      = errors.New("sender identity is required")
	ErrEmptyContent       = errors.New("content cannot be empty")
	ErrEmptyTitle         = errors.New("title cannot be empty")
	ErrTooFewOptions      = errors.New("proposal requires at least 2 options")
	ErrEmptyOption        = errors.New("proposal options cannot be empty")
	ErrPastDeadline       = errors.New("proposal deadline must be in the future")
	ErrInvalidPriority    = errors.New("priority must be low, normal, medium or high")
	ErrMissingProposalID  = errors.New("proposal ID is required")
	ErrInvalidOptionIndex = errors.New("option index cannot be negative")
)
