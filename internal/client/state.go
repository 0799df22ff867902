package client

import (
	"sync"

	"chamahub/internal/view"
	"chamahub/pkg/slidinglog"
	"chamahub/pkg/types"
)

// Capacities bounds the per-room local logs.
type Capacities struct {
	Messages      int
	Announcements int
}

func DefaultCapacities() Capacities {
	return Capacities{Messages: 1000, Announcements: 200}
}

// State is the client-local store the batcher drains into. It is owned by
// exactly one client; only that client's batcher mutates it, readers come
// through the accessor methods. Each applied batch is one state
// transition: the version bumps once and the observer fires once no
// matter how many envelopes the batch carried.
type State struct {
	mu            sync.RWMutex
	identity      string
	caps          Capacities
	messages      map[string]*slidinglog.Log[types.Message]
	proposals     map[string][]types.Proposal
	announcements map[string]*slidinglog.Log[types.Announcement]
	notifications *Notifications
	version       uint64
	onChange      func()
}

// NewState creates an empty store for the given identity. The identity is
// used to resolve per-voter views of proposal vote updates.
func NewState(identity string, caps Capacities) *State {
	if caps.Messages <= 0 {
		caps.Messages = DefaultCapacities().Messages
	}
	if caps.Announcements <= 0 {
		caps.Announcements = DefaultCapacities().Announcements
	}
	return &State{
		identity:      identity,
		caps:          caps,
		messages:      make(map[string]*slidinglog.Log[types.Message]),
		proposals:     make(map[string][]types.Proposal),
		announcements: make(map[string]*slidinglog.Log[types.Announcement]),
		notifications: NewNotifications(),
	}
}

// OnChange registers a callback fired once after every applied batch. The
// rendering layer hangs its re-render trigger here.
func (s *State) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// ApplyBatch applies a drained batch atomically. Envelopes apply in slice
// order, which the batcher guarantees is arrival order.
func (s *State) ApplyBatch(batch []types.Envelope) {
	if len(batch) == 0 {
		return
	}

	s.mu.Lock()
	for i := range batch {
		s.applyLocked(&batch[i])
	}
	s.version++
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (s *State) applyLocked(env *types.Envelope) {
	switch env.Kind {
	case types.KindNewMessage:
		if env.Message != nil {
			s.messageLog(env.Room).Append(*env.Message)
		}

	case types.KindNewProposal:
		if env.Proposal != nil {
			s.proposals[env.Room] = append(s.proposals[env.Room], *env.Proposal)
		}

	case types.KindProposalVote:
		if env.Vote != nil {
			s.applyVoteLocked(env.Room, env.Vote)
		}

	case types.KindNewAnnouncement:
		if env.Announcement != nil {
			s.announcementLog(env.Room).Append(*env.Announcement)
		}

	case types.KindNotification:
		if env.Notification != nil {
			s.notifications.Push(*env.Notification)
		}

	case types.KindSnapshotMessages:
		log := slidinglog.New[types.Message](s.caps.Messages)
		for _, m := range env.Messages {
			log.Append(m)
		}
		s.messages[env.Room] = log

	case types.KindSnapshotProposals:
		s.proposals[env.Room] = append([]types.Proposal(nil), env.Proposals...)

	case types.KindSnapshotAnnouncements:
		log := slidinglog.New[types.Announcement](s.caps.Announcements)
		for _, a := range env.Announcements {
			log.Append(a)
		}
		s.announcements[env.Room] = log
	}
}

// applyVoteLocked replaces the proposal's vote counts with the delta and
// resolves HasVoted for this client's own identity only.
func (s *State) applyVoteLocked(room string, vote *types.VoteUpdate) {
	props := s.proposals[room]
	for i := range props {
		if props[i].ID == vote.ProposalID {
			props[i].Votes = vote.Votes
			if vote.Voter == s.identity {
				props[i].HasVoted = true
			}
			return
		}
	}
}

func (s *State) messageLog(room string) *slidinglog.Log[types.Message] {
	log, ok := s.messages[room]
	if !ok {
		log = slidinglog.New[types.Message](s.caps.Messages)
		s.messages[room] = log
	}
	return log
}

func (s *State) announcementLog(room string) *slidinglog.Log[types.Announcement] {
	log, ok := s.announcements[room]
	if !ok {
		log = slidinglog.New[types.Announcement](s.caps.Announcements)
		s.announcements[room] = log
	}
	return log
}

// Messages returns a copy of the room's message log, oldest first.
func (s *State) Messages(room string) []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if log, ok := s.messages[room]; ok {
		return log.Items()
	}
	return nil
}

// MessageCount returns the room's live message count.
func (s *State) MessageCount(room string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if log, ok := s.messages[room]; ok {
		return log.Len()
	}
	return 0
}

// MessageWindow computes the render-ready visible slice of the room's
// message log for the given viewport parameters.
func (s *State) MessageWindow(room string, p view.Params) ([]types.Message, view.Range) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.messages[room]
	if !ok {
		return nil, view.Window(0, p)
	}
	r := view.Window(log.Len(), p)
	return log.Slice(r.Start, r.End+1), r
}

// Proposals returns a copy of the room's proposals in arrival order.
func (s *State) Proposals(room string) []types.Proposal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Proposal(nil), s.proposals[room]...)
}

// Announcements returns a copy of the room's announcement log.
func (s *State) Announcements(room string) []types.Announcement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if log, ok := s.announcements[room]; ok {
		return log.Items()
	}
	return nil
}

// Notifications returns the notification queue.
func (s *State) Notifications() *Notifications {
	return s.notifications
}

// Version returns the number of batches applied so far.
func (s *State) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
