package types

import (
	"strings"
	"time"
)

// Validate checks the command's shape for its operation. It runs on the
// client before emission; the broker assumes commands it receives are
// well-formed and only re-checks targets it alone can see (room membership,
// proposal existence, deadlines at vote time).
func (c *Command) Validate() error {
	if c.Room == "" {
		return ErrMissingRoom
	}
	if c.Sender == "" {
		return ErrMissingSender
	}

	switch c.Op {
	case OpJoinRoom, OpLeaveRoom:
		return nil

	case OpSendMessage:
		if strings.TrimSpace(c.Content) == "" {
			return ErrEmptyContent
		}
		return nil

	case OpCreateProposal:
		if strings.TrimSpace(c.Title) == "" {
			return ErrEmptyTitle
		}
		if len(c.Options) < 2 {
			return ErrTooFewOptions
		}
		for _, opt := range c.Options {
			if strings.TrimSpace(opt) == "" {
				return ErrEmptyOption
			}
		}
		if !c.Deadline.After(time.Now()) {
			return ErrPastDeadline
		}
		return nil

	case OpVoteProposal:
		if c.ProposalID == "" {
			return ErrMissingProposalID
		}
		if c.OptionIndex < 0 {
			return ErrInvalidOptionIndex
		}
		return nil

	case OpCreateAnnouncement:
		if strings.TrimSpace(c.Title) == "" {
			return ErrEmptyTitle
		}
		if strings.TrimSpace(c.Content) == "" {
			return ErrEmptyContent
		}
		if !IsValidPriority(c.Priority) {
			return ErrInvalidPriority
		}
		return nil

	default:
		return ErrInvalidOp
	}
}
