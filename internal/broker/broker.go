// Package broker implements the room-scoped publish/subscribe service that
// owns the canonical message, proposal and announcement logs for every chama
// and fans events out to current subscribers.
package broker

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chamahub/pkg/types"
)

// DefaultChannelBuffer is the per-subscriber delivery buffer. A full buffer
// drops the envelope for that subscriber rather than stalling the broker.
const DefaultChannelBuffer = 256

// DefaultRateLimit is the per-identity publish quota per minute.
const DefaultRateLimit = 100

// LogCapacities bounds the canonical per-room logs.
type LogCapacities struct {
	Messages      int
	Proposals     int
	Announcements int
}

// DefaultLogCapacities mirrors the client-side history ceilings.
func DefaultLogCapacities() LogCapacities {
	return LogCapacities{Messages: 1000, Proposals: 200, Announcements: 200}
}

// Subscription is one attached connection's view of the broker. Envelopes
// for every room the connection has joined arrive on Events, in the order
// the broker applied them.
type Subscription struct {
	id       string
	identity string
	ch       chan types.Envelope
	rooms    map[string]bool // guarded by the broker's mutex
}

// ID returns the broker-assigned connection ID.
func (s *Subscription) ID() string { return s.id }

// Identity returns the participant identity bound at attach time.
func (s *Subscription) Identity() string { return s.identity }

// Events is the delivery channel. It is closed on Detach.
func (s *Subscription) Events() <-chan types.Envelope { return s.ch }

// Broker is an explicitly constructed event broker. It is safe for
// concurrent use; every publish or vote is applied atomically with respect
// to the room logs and its broadcast order.
type Broker struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	rooms   map[string]*room
	caps    LogCapacities
	buffer  int
	publish PublishFunc
	mws     []Middleware
	limiter *RateLimiter
	log     zerolog.Logger
	dropped uint64
}

// Option configures a Broker at construction time.
type Option func(*Broker)

// WithLogger sets the broker's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(b *Broker) { b.log = log }
}

// WithChannelBuffer sets the per-subscriber delivery buffer size.
func WithChannelBuffer(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogCapacities bounds the canonical room logs.
func WithLogCapacities(caps LogCapacities) Option {
	return func(b *Broker) { b.caps = caps }
}

// WithRateLimit sets the per-identity publish quota per minute. Zero or
// negative disables limiting.
func WithRateLimit(perMinute int) Option {
	return func(b *Broker) { b.limiter = NewRateLimiter(perMinute) }
}

// WithMiddleware appends publish middleware, outermost first. The chain is
// composed once here; the publish path is never patched afterwards.
func WithMiddleware(mws ...Middleware) Option {
	return func(b *Broker) { b.mws = append(b.mws, mws...) }
}

// New creates a broker. Callers own the instance and pass it by reference;
// there is no package-level shared broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		subs:    make(map[string]*Subscription),
		rooms:   make(map[string]*room),
		caps:    DefaultLogCapacities(),
		buffer:  DefaultChannelBuffer,
		limiter: NewRateLimiter(DefaultRateLimit),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}

	// Rate limiting sits innermost so rejected publishes still pass
	// through logging and metrics middleware.
	b.publish = chain(b.dispatch, append(b.mws, rateLimitMiddleware(b.limiter))...)
	return b
}

// Attach registers a new connection for identity and returns its
// subscription. One transport session maps to exactly one subscription.
func (b *Broker) Attach(identity string) *Subscription {
	sub := &Subscription{
		id:       uuid.New().String(),
		identity: identity,
		ch:       make(chan types.Envelope, b.buffer),
		rooms:    make(map[string]bool),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	b.log.Info().Str("module", "broker").Str("conn", sub.id).Str("identity", identity).Msg("connection attached")
	return sub
}

// Detach removes the connection from every room it joined, closes its
// delivery channel and forgets it. Idempotent.
func (b *Broker) Detach(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.subs[connID]
	if !exists {
		return
	}

	for roomID := range sub.rooms {
		b.removeFromRoom(sub, roomID)
	}
	delete(b.subs, connID)
	close(sub.ch)

	b.log.Info().Str("module", "broker").Str("conn", connID).Msg("connection detached")
}

// JoinRoom adds the connection to the room, creating the room lazily, and
// synchronously enqueues the room's three snapshot envelopes so the joiner
// starts from full state before any subsequent broadcast.
func (b *Broker) JoinRoom(connID, roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.subs[connID]
	if !exists {
		return ErrUnknownConnection
	}

	rm, exists := b.rooms[roomID]
	if !exists {
		rm = newRoom(roomID, b.caps)
		b.rooms[roomID] = rm
	}

	rm.subscribers[sub.id] = sub
	sub.rooms[roomID] = true

	b.trySend(sub, types.Envelope{Kind: types.KindSnapshotMessages, Room: roomID, Messages: rm.messages.Items()})
	b.trySend(sub, types.Envelope{Kind: types.KindSnapshotProposals, Room: roomID, Proposals: rm.snapshotProposals(sub.identity)})
	b.trySend(sub, types.Envelope{Kind: types.KindSnapshotAnnouncements, Room: roomID, Announcements: rm.announcements.Items()})

	b.log.Debug().Str("module", "broker").Str("conn", connID).Str("room", roomID).Msg("joined room")
	return nil
}

// LeaveRoom removes the connection from the room. After it returns no
// further envelopes for that room reach the connection. Idempotent; empty
// rooms are garbage-collected.
func (b *Broker) LeaveRoom(connID, roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.subs[connID]
	if !exists {
		return
	}
	b.removeFromRoom(sub, roomID)
}

// removeFromRoom must be called with the broker locked.
func (b *Broker) removeFromRoom(sub *Subscription, roomID string) {
	delete(sub.rooms, roomID)
	rm, exists := b.rooms[roomID]
	if !exists {
		return
	}
	delete(rm.subscribers, sub.id)
	if len(rm.subscribers) == 0 {
		delete(b.rooms, roomID)
		b.log.Debug().Str("module", "broker").Str("room", roomID).Msg("room garbage-collected")
	}
}

// Publish runs cmd through the composed publish chain for the given
// connection. Join and leave operations are not publishes; use Apply for
// uniform command handling.
func (b *Broker) Publish(connID string, cmd *types.Command) error {
	b.mu.RLock()
	sub, exists := b.subs[connID]
	b.mu.RUnlock()
	if !exists {
		return ErrUnknownConnection
	}
	return b.publish(sub, cmd)
}

// Apply routes any client command: membership operations go straight to
// JoinRoom/LeaveRoom, everything else through the publish chain.
func (b *Broker) Apply(connID string, cmd *types.Command) error {
	switch cmd.Op {
	case types.OpJoinRoom:
		return b.JoinRoom(connID, cmd.Room)
	case types.OpLeaveRoom:
		b.LeaveRoom(connID, cmd.Room)
		return nil
	default:
		return b.Publish(connID, cmd)
	}
}

// dispatch is the innermost publish stage. It validates the target,
// finalizes the event (server-assigned ID and timestamp), appends it to the
// canonical log and broadcasts it to every subscriber including the
// publisher, all under one lock hold.
func (b *Broker) dispatch(sub *Subscription, cmd *types.Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rm, exists := b.rooms[cmd.Room]
	if !exists || rm.subscribers[sub.id] == nil {
		return ErrNotInRoom
	}

	now := time.Now()

	switch cmd.Op {
	case types.OpSendMessage:
		msg := types.Message{
			ID:        uuid.New().String(),
			Room:      cmd.Room,
			Sender:    sub.identity,
			Content:   cmd.Content,
			ThreadID:  cmd.ThreadID,
			Timestamp: now,
		}
		rm.messages.Append(msg)
		b.broadcast(rm, types.Envelope{Kind: types.KindNewMessage, Room: cmd.Room, Message: &msg})
		return nil

	case types.OpCreateProposal:
		rec := &proposalRecord{
			proposal: types.Proposal{
				ID:          uuid.New().String(),
				Room:        cmd.Room,
				Creator:     sub.identity,
				Title:       cmd.Title,
				Description: cmd.Description,
				Options:     append([]string(nil), cmd.Options...),
				Deadline:    cmd.Deadline,
				Timestamp:   now,
				Votes:       make(map[int]int),
			},
			voters: make(map[string]bool),
		}
		rm.proposals.Append(rec)

		out := rec.proposal
		out.Votes = copyVotes(rec.proposal.Votes)
		b.broadcast(rm, types.Envelope{Kind: types.KindNewProposal, Room: cmd.Room, Proposal: &out})
		return nil

	case types.OpVoteProposal:
		rec := rm.findProposal(cmd.ProposalID)
		if rec == nil {
			return ErrProposalNotFound
		}
		if rm.expired(rec, now) {
			return ErrProposalExpired
		}
		if cmd.OptionIndex < 0 || cmd.OptionIndex >= len(rec.proposal.Options) {
			return ErrUnknownOption
		}
		if rec.voters[sub.identity] {
			return ErrAlreadyVoted
		}

		rec.proposal.Votes[cmd.OptionIndex]++
		rec.voters[sub.identity] = true

		b.broadcast(rm, types.Envelope{Kind: types.KindProposalVote, Room: cmd.Room, Vote: &types.VoteUpdate{
			Room:       cmd.Room,
			ProposalID: rec.proposal.ID,
			Votes:      copyVotes(rec.proposal.Votes),
			Voter:      sub.identity,
		}})
		return nil

	case types.OpCreateAnnouncement:
		ann := types.Announcement{
			ID:        uuid.New().String(),
			Room:      cmd.Room,
			Creator:   sub.identity,
			Title:     cmd.Title,
			Content:   cmd.Content,
			Priority:  cmd.Priority,
			Timestamp: now,
			ReadBy:    []string{},
		}
		rm.announcements.Append(ann)
		b.broadcast(rm, types.Envelope{Kind: types.KindNewAnnouncement, Room: cmd.Room, Announcement: &ann})

		// Every announcement also raises a cross-room notification.
		b.broadcast(rm, types.Envelope{Kind: types.KindNotification, Room: cmd.Room, Notification: &types.Notification{
			ID:        uuid.New().String(),
			Type:      "announcement",
			Room:      cmd.Room,
			Title:     "New Announcement",
			Body:      ann.Title,
			Priority:  ann.Priority,
			Timestamp: now,
		}})
		return nil

	default:
		return ErrUnsupportedCommand
	}
}

// broadcast delivers env to every subscriber of the room, publisher
// included. Must be called with the broker locked so all subscribers see
// the same order.
func (b *Broker) broadcast(rm *room, env types.Envelope) {
	for _, sub := range rm.subscribers {
		b.trySend(sub, env)
	}
}

// trySend delivers without blocking; a subscriber with a full buffer loses
// the envelope and the drop is counted.
func (b *Broker) trySend(sub *Subscription, env types.Envelope) {
	select {
	case sub.ch <- env:
	default:
		b.dropped++
		b.log.Warn().Str("module", "broker").
			Str("conn", sub.id).
			Str("kind", env.Kind).
			Str("room", env.Room).
			Msg("subscriber buffer full, envelope dropped")
	}
}

// RoomInfo summarizes one live room for monitoring endpoints.
type RoomInfo struct {
	ID            string `json:"id"`
	Subscribers   int    `json:"subscribers"`
	Messages      int    `json:"messages"`
	Proposals     int    `json:"proposals"`
	Announcements int    `json:"announcements"`
}

// Connections lists the live connection ids.
func (b *Broker) Connections() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.subs))
	for id := range b.subs {
		out = append(out, id)
	}
	return out
}

// Rooms lists the live rooms.
func (b *Broker) Rooms() []RoomInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]RoomInfo, 0, len(b.rooms))
	for _, rm := range b.rooms {
		out = append(out, RoomInfo{
			ID:            rm.id,
			Subscribers:   len(rm.subscribers),
			Messages:      rm.messages.Len(),
			Proposals:     rm.proposals.Len(),
			Announcements: rm.announcements.Len(),
		})
	}
	return out
}

// Stats returns broker counters for monitoring.
func (b *Broker) Stats() map[string]uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return map[string]uint64{
		"connections":       uint64(len(b.subs)),
		"rooms":             uint64(len(b.rooms)),
		"dropped_envelopes": b.dropped,
	}
}
