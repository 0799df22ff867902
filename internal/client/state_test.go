package client

import (
	"testing"
	"time"

	"chamahub/internal/view"
	"chamahub/pkg/types"
)

func TestStateVersionBumpsOncePerBatch(t *testing.T) {
	s := NewState("alice", Capacities{})

	var fired int
	s.OnChange(func() { fired++ })

	batch := []types.Envelope{msgEnvelope(0), msgEnvelope(1), msgEnvelope(2)}
	s.ApplyBatch(batch)

	if got := s.Version(); got != 1 {
		t.Fatalf("version after one batch = %d, want 1", got)
	}
	if fired != 1 {
		t.Fatalf("onChange fired %d times for one batch, want 1", fired)
	}
	if got := s.MessageCount("general"); got != 3 {
		t.Fatalf("message count = %d, want 3", got)
	}

	s.ApplyBatch(nil)
	if got := s.Version(); got != 1 {
		t.Fatalf("empty batch bumped version to %d", got)
	}
}

func TestStateSnapshotReplacesLog(t *testing.T) {
	s := NewState("alice", Capacities{})

	s.ApplyBatch([]types.Envelope{msgEnvelope(0), msgEnvelope(1)})
	s.ApplyBatch([]types.Envelope{{
		Kind:     types.KindSnapshotMessages,
		Room:     "general",
		Messages: []types.Message{{ID: "snap-1", Content: "from snapshot"}},
	}})

	msgs := s.Messages("general")
	if len(msgs) != 1 || msgs[0].ID != "snap-1" {
		t.Fatalf("snapshot did not replace log: %+v", msgs)
	}
}

func TestStateVoteDeltaResolvesOwnIdentity(t *testing.T) {
	s := NewState("bob", Capacities{})

	s.ApplyBatch([]types.Envelope{{
		Kind: types.KindNewProposal,
		Room: "treasury",
		Proposal: &types.Proposal{
			ID:      "p-1",
			Title:   "Emergency fund",
			Options: []string{"yes", "no"},
			Votes:   map[int]int{},
		},
	}})

	s.ApplyBatch([]types.Envelope{{
		Kind: types.KindProposalVote,
		Room: "treasury",
		Vote: &types.VoteUpdate{Room: "treasury", ProposalID: "p-1", Votes: map[int]int{0: 1}, Voter: "alice"},
	}})
	props := s.Proposals("treasury")
	if props[0].Votes[0] != 1 {
		t.Fatalf("vote delta not applied: %+v", props[0].Votes)
	}
	if props[0].HasVoted {
		t.Fatal("HasVoted set by another voter's ballot")
	}

	s.ApplyBatch([]types.Envelope{{
		Kind: types.KindProposalVote,
		Room: "treasury",
		Vote: &types.VoteUpdate{Room: "treasury", ProposalID: "p-1", Votes: map[int]int{0: 1, 1: 1}, Voter: "bob"},
	}})
	props = s.Proposals("treasury")
	if !props[0].HasVoted {
		t.Fatal("HasVoted not set by own ballot")
	}
	if props[0].Votes[1] != 1 {
		t.Fatalf("second delta not applied: %+v", props[0].Votes)
	}
}

func TestStateVoteForUnknownProposalIgnored(t *testing.T) {
	s := NewState("alice", Capacities{})
	s.ApplyBatch([]types.Envelope{{
		Kind: types.KindProposalVote,
		Room: "treasury",
		Vote: &types.VoteUpdate{Room: "treasury", ProposalID: "ghost", Votes: map[int]int{0: 1}, Voter: "alice"},
	}})
	if got := len(s.Proposals("treasury")); got != 0 {
		t.Fatalf("vote for unknown proposal materialized %d proposals", got)
	}
}

func TestStateMessageLogEviction(t *testing.T) {
	s := NewState("alice", Capacities{Messages: 5, Announcements: 5})

	var batch []types.Envelope
	for i := 0; i < 8; i++ {
		batch = append(batch, msgEnvelope(i))
	}
	s.ApplyBatch(batch)

	msgs := s.Messages("general")
	if len(msgs) != 5 {
		t.Fatalf("log holds %d messages with capacity 5", len(msgs))
	}
	if msgs[0].ID != "m-003" || msgs[4].ID != "m-007" {
		t.Fatalf("eviction kept wrong window: first=%s last=%s", msgs[0].ID, msgs[4].ID)
	}
}

func TestStateMessageWindow(t *testing.T) {
	s := NewState("alice", Capacities{})

	var batch []types.Envelope
	for i := 0; i < 100; i++ {
		batch = append(batch, msgEnvelope(i))
	}
	s.ApplyBatch(batch)

	visible, r := s.MessageWindow("general", view.Params{Buffer: 5, ScrollOffset: 800})
	if r.Start != 5 || r.End != 20 {
		t.Fatalf("window = [%d,%d], want [5,20]", r.Start, r.End)
	}
	if len(visible) != 16 {
		t.Fatalf("visible slice has %d items, want 16", len(visible))
	}
	if visible[0].ID != "m-005" {
		t.Fatalf("first visible = %s, want m-005", visible[0].ID)
	}
	if r.OffsetY != 400 {
		t.Fatalf("offsetY = %d, want 400", r.OffsetY)
	}

	if _, r := s.MessageWindow("empty", view.Params{}); r.End != -1 {
		t.Fatalf("empty room window end = %d, want -1", r.End)
	}
}

func TestStateNotificationsFeed(t *testing.T) {
	s := NewState("alice", Capacities{})

	s.ApplyBatch([]types.Envelope{{
		Kind: types.KindNotification,
		Room: "general",
		Notification: &types.Notification{
			ID:        "n-1",
			Type:      "announcement",
			Room:      "general",
			Title:     "Meeting moved",
			Priority:  types.PriorityHigh,
			Timestamp: time.Now(),
		},
	}})

	if got := s.Notifications().Len(); got != 1 {
		t.Fatalf("notification feed has %d entries, want 1", got)
	}
}
