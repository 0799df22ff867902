package broker

import (
	"time"

	"chamahub/pkg/slidinglog"
	"chamahub/pkg/types"
)

// proposalRecord is the broker's canonical proposal state. Voters is the
// per-identity vote record backing both double-vote rejection and the
// per-recipient HasVoted view; the stored Proposal itself never carries a
// HasVoted value.
type proposalRecord struct {
	proposal types.Proposal
	voters   map[string]bool
}

// room holds the canonical logs for one chama and its current subscribers.
// All access is guarded by the broker's mutex.
type room struct {
	id            string
	subscribers   map[string]*Subscription
	messages      *slidinglog.Log[types.Message]
	proposals     *slidinglog.Log[*proposalRecord]
	announcements *slidinglog.Log[types.Announcement]
}

func newRoom(id string, caps LogCapacities) *room {
	return &room{
		id:            id,
		subscribers:   make(map[string]*Subscription),
		messages:      slidinglog.New[types.Message](caps.Messages),
		proposals:     slidinglog.New[*proposalRecord](caps.Proposals),
		announcements: slidinglog.New[types.Announcement](caps.Announcements),
	}
}

func (r *room) findProposal(id string) *proposalRecord {
	for _, rec := range r.proposals.Items() {
		if rec.proposal.ID == id {
			return rec
		}
	}
	return nil
}

// snapshotProposals returns copies of the stored proposals with Votes
// duplicated and HasVoted resolved for the given identity. Snapshots are
// per-connection, so the resolution costs nothing extra.
func (r *room) snapshotProposals(identity string) []types.Proposal {
	recs := r.proposals.Items()
	out := make([]types.Proposal, 0, len(recs))
	for _, rec := range recs {
		p := rec.proposal
		p.Votes = copyVotes(rec.proposal.Votes)
		p.HasVoted = rec.voters[identity]
		out = append(out, p)
	}
	return out
}

func (r *room) expired(rec *proposalRecord, now time.Time) bool {
	return now.After(rec.proposal.Deadline)
}

func copyVotes(votes map[int]int) map[int]int {
	out := make(map[int]int, len(votes))
	for k, v := range votes {
		out[k] = v
	}
	return out
}
