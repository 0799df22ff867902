package broker

import "errors"

var (
	ErrUnknownConnection  = errors.New("unknown connection")
	ErrNotInRoom          = errors.New("connection has not joined this room")
	ErrProposalNotFound   = errors.New("proposal not found")
	ErrProposalExpired    = errors.New("proposal deadline has passed")
	ErrAlreadyVoted       = errors.New("identity already voted on this proposal")
	ErrUnknownOption      = errors.New("option index out of range")
	ErrRateLimited        = errors.New("publish rate limit exceeded")
	ErrUnsupportedCommand = errors.New("operation not supported by publish")
)
