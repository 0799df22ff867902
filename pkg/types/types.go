package types

import (
	"time"
)

// Priority levels for announcements and notifications.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Client-to-broker operations.
const (
	OpJoinRoom           = "join_room"
	OpLeaveRoom          = "leave_room"
	OpSendMessage        = "send_message"
	OpCreateProposal     = "create_proposal"
	OpVoteProposal       = "vote_proposal"
	OpCreateAnnouncement = "create_announcement"
)

// Broker-to-client envelope kinds.
const (
	KindNewMessage            = "new_message"
	KindNewProposal           = "new_proposal"
	KindProposalVote          = "proposal_vote"
	KindNewAnnouncement       = "new_announcement"
	KindNotification          = "notification"
	KindSnapshotMessages      = "room_snapshot_messages"
	KindSnapshotProposals     = "room_snapshot_proposals"
	KindSnapshotAnnouncements = "room_snapshot_announcements"
)

// Message is a single chat message inside a room. ThreadID is nil for
// top-level messages.
type Message struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	ThreadID  *string   `json:"thread_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Proposal is a governance proposal with materialized vote counts.
// HasVoted is computed for the identity the proposal is delivered to;
// it is never shared state between recipients.
type Proposal struct {
	ID          string      `json:"id"`
	Room        string      `json:"room"`
	Creator     string      `json:"creator"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Options     []string    `json:"options"`
	Deadline    time.Time   `json:"deadline"`
	Timestamp   time.Time   `json:"timestamp"`
	Votes       map[int]int `json:"votes"`
	HasVoted    bool        `json:"has_voted"`
}

// Announcement is a prioritized room-wide notice.
type Announcement struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	Creator   string    `json:"creator"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Priority  string    `json:"priority"`
	Timestamp time.Time `json:"timestamp"`
	ReadBy    []string  `json:"read_by"`
}

// Notification is an ephemeral cross-room notice, independent of room logs.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Room      string    `json:"room,omitempty"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Priority  string    `json:"priority,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// VoteUpdate is the delta broadcast after an accepted vote. Votes is a copy
// of the proposal's counts at that instant; Voter lets each recipient derive
// its own has-voted flag.
type VoteUpdate struct {
	Room       string      `json:"room"`
	ProposalID string      `json:"proposal_id"`
	Votes      map[int]int `json:"votes"`
	Voter      string      `json:"voter"`
}

// Command is a client-to-broker request. The populated fields depend on Op;
// Validate enforces the per-op shape before the command leaves the client.
type Command struct {
	Op          string    `json:"op"`
	Room        string    `json:"room"`
	Sender      string    `json:"sender"`
	Content     string    `json:"content,omitempty"`
	ThreadID    *string   `json:"thread_id,omitempty"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Options     []string  `json:"options,omitempty"`
	Deadline    time.Time `json:"deadline,omitzero"`
	Priority    string    `json:"priority,omitempty"`
	ProposalID  string    `json:"proposal_id,omitempty"`
	OptionIndex int       `json:"option_index,omitempty"`
}

// Envelope is a broker-to-client delivery. Exactly one payload field is
// populated, selected by Kind; snapshot kinds carry a slice.
type Envelope struct {
	Kind          string         `json:"kind"`
	Room          string         `json:"room"`
	Message       *Message       `json:"message,omitempty"`
	Proposal      *Proposal      `json:"proposal,omitempty"`
	Vote          *VoteUpdate    `json:"vote,omitempty"`
	Announcement  *Announcement  `json:"announcement,omitempty"`
	Notification  *Notification  `json:"notification,omitempty"`
	Messages      []Message      `json:"messages,omitempty"`
	Proposals     []Proposal     `json:"proposals,omitempty"`
	Announcements []Announcement `json:"announcements,omitempty"`
}

// IsValidPriority reports whether p is one of the four allowed levels.
func IsValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}
