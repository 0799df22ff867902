package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chamahub/internal/transport"
	"chamahub/pkg/types"
)

// Status is the connection state machine's current state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Reconnection policy: delay = min(2^attempt, backoffCapFactor) * unit for
// attempts 0..4; after DefaultMaxAttempts failed retries only a manual
// ForceReconnect tries again.
const (
	DefaultBackoffUnit = time.Second
	DefaultMaxAttempts = 5
	backoffCapFactor   = 16
	dialTimeout        = 10 * time.Second
)

// StatusInfo is the human-readable connection summary for status widgets.
type StatusInfo struct {
	Status            string        `json:"status"`
	Message           string        `json:"message"`
	ReconnectAttempts int           `json:"reconnect_attempts"`
	LastConnectedAt   *time.Time    `json:"last_connected_at,omitempty"`
	Uptime            time.Duration `json:"uptime"`
}

// Manager owns the single transport session for one identity: the
// connect/disconnect state machine, exponential backoff reconnection, and
// the pipeline delivering broker envelopes into the local State through
// the Batcher. All methods are safe for concurrent use.
type Manager struct {
	dialer      transport.Dialer
	log         zerolog.Logger
	backoffUnit time.Duration
	maxAttempts int
	batchSize   int
	batchDelay  time.Duration
	caps        Capacities

	mu              sync.Mutex
	identity        string
	status          Status
	attempts        int
	lastConnectedAt *time.Time
	tr              transport.Transport
	retryTimer      *time.Timer
	gen             int
	state           *State
	batcher         *Batcher
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// WithBackoffUnit scales the backoff schedule; tests shrink it to keep the
// real schedule shape without real seconds.
func WithBackoffUnit(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.backoffUnit = d
		}
	}
}

// WithBatching overrides the batcher's drain size and interval.
func WithBatching(size int, delay time.Duration) ManagerOption {
	return func(m *Manager) {
		m.batchSize = size
		m.batchDelay = delay
	}
}

// WithCapacities bounds the local sliding logs.
func WithCapacities(caps Capacities) ManagerOption {
	return func(m *Manager) { m.caps = caps }
}

// NewManager creates a manager that dials the broker through dialer.
func NewManager(dialer transport.Dialer, opts ...ManagerOption) *Manager {
	m := &Manager{
		dialer:      dialer,
		log:         zerolog.Nop(),
		backoffUnit: DefaultBackoffUnit,
		maxAttempts: DefaultMaxAttempts,
		batchSize:   DefaultBatchSize,
		batchDelay:  DefaultBatchDelay,
		caps:        DefaultCapacities(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect binds the manager to identity and establishes the transport
// session. Reconnection after transport loss is automatic from then on
// until Disconnect or the retry budget runs out. Connecting with a live
// session tears the old one down first.
func (m *Manager) Connect(identity string) error {
	if identity == "" {
		return ErrNoIdentity
	}

	m.mu.Lock()
	m.teardownLocked()
	old := m.batcher
	m.identity = identity
	m.attempts = 0
	m.state = NewState(identity, m.caps)
	m.batcher = NewBatcher(m.batchSize, m.batchDelay, m.state.ApplyBatch)
	m.mu.Unlock()

	if old != nil {
		old.Stop()
	}

	return m.attemptConnect()
}

// Disconnect drops the identity, closes the session, cancels any pending
// reconnect and flushes the batcher. Local state stays readable.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.identity = ""
	m.teardownLocked()
	batcher := m.batcher
	m.batcher = nil
	m.mu.Unlock()

	if batcher != nil {
		batcher.Stop()
	}
	m.log.Info().Str("module", "client").Msg("disconnected")
}

// ForceReconnect resets the retry counter and reconnects immediately,
// bypassing any scheduled backoff timer.
func (m *Manager) ForceReconnect() error {
	m.mu.Lock()
	if m.identity == "" {
		m.mu.Unlock()
		return ErrNoIdentity
	}
	m.attempts = 0
	m.cancelRetryLocked()
	m.closeTransportLocked()
	m.mu.Unlock()

	return m.attemptConnect()
}

// Status returns the current connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// ReconnectAttempts returns the current failed-retry count.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// LastConnectedAt returns when the session last came up, or nil.
func (m *Manager) LastConnectedAt() *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastConnectedAt
}

// StatusInfo returns the render-ready status summary.
func (m *Manager) StatusInfo() StatusInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := StatusInfo{
		Status:            m.status.String(),
		ReconnectAttempts: m.attempts,
		LastConnectedAt:   m.lastConnectedAt,
	}

	switch m.status {
	case StatusConnected:
		info.Message = "Connected to real-time services"
		if m.lastConnectedAt != nil {
			info.Uptime = time.Since(*m.lastConnectedAt)
		}
	case StatusConnecting:
		info.Message = "Connecting to real-time services..."
	default:
		if m.attempts > 0 {
			info.Message = fmt.Sprintf("Reconnecting... (%d/%d)", m.attempts, m.maxAttempts)
		} else {
			info.Message = "Disconnected from real-time services"
		}
	}
	return info
}

// State returns the client-local store, or nil before the first Connect.
func (m *Manager) State() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// JoinRoom subscribes to a room. The broker replies with the room's three
// snapshot envelopes. Rooms are not rejoined automatically after a
// reconnect; callers re-issue JoinRoom for the rooms they care about.
func (m *Manager) JoinRoom(room string) error {
	return m.send(&types.Command{Op: types.OpJoinRoom, Room: room})
}

// LeaveRoom unsubscribes from a room.
func (m *Manager) LeaveRoom(room string) error {
	return m.send(&types.Command{Op: types.OpLeaveRoom, Room: room})
}

// SendMessage publishes a chat message to a room.
func (m *Manager) SendMessage(room, content string, threadID *string) error {
	return m.send(&types.Command{Op: types.OpSendMessage, Room: room, Content: content, ThreadID: threadID})
}

// CreateProposal publishes a governance proposal.
func (m *Manager) CreateProposal(room, title, description string, options []string, deadline time.Time) error {
	return m.send(&types.Command{
		Op:          types.OpCreateProposal,
		Room:        room,
		Title:       title,
		Description: description,
		Options:     options,
		Deadline:    deadline,
	})
}

// Vote casts a vote on a proposal.
func (m *Manager) Vote(room, proposalID string, optionIndex int) error {
	return m.send(&types.Command{
		Op:          types.OpVoteProposal,
		Room:        room,
		ProposalID:  proposalID,
		OptionIndex: optionIndex,
	})
}

// CreateAnnouncement publishes a prioritized announcement.
func (m *Manager) CreateAnnouncement(room, title, content, priority string) error {
	return m.send(&types.Command{
		Op:       types.OpCreateAnnouncement,
		Room:     room,
		Title:    title,
		Content:  content,
		Priority: priority,
	})
}

// send validates the command at the client boundary and fails fast when
// the session is not connected; nothing is queued for later delivery.
func (m *Manager) send(cmd *types.Command) error {
	m.mu.Lock()
	if m.identity == "" {
		m.mu.Unlock()
		return ErrNoIdentity
	}
	if m.status != StatusConnected || m.tr == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	cmd.Sender = m.identity
	tr := m.tr
	m.mu.Unlock()

	if err := cmd.Validate(); err != nil {
		return err
	}
	return tr.Send(cmd)
}

// attemptConnect performs one dial. On failure it schedules the next
// retry per the backoff policy.
func (m *Manager) attemptConnect() error {
	m.mu.Lock()
	if m.identity == "" {
		m.mu.Unlock()
		return ErrNoIdentity
	}
	identity := m.identity
	m.gen++
	gen := m.gen
	m.status = StatusConnecting
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	tr, err := m.dialer.Dial(ctx, identity)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.identity == "" {
		// A Disconnect or newer Connect superseded this attempt.
		if err == nil {
			tr.Close()
		}
		return nil
	}

	if err != nil {
		m.status = StatusDisconnected
		m.log.Warn().Str("module", "client").Err(err).Int("attempt", m.attempts).Msg("connect failed")
		m.scheduleRetryLocked()
		return err
	}

	m.tr = tr
	m.status = StatusConnected
	m.attempts = 0
	now := time.Now()
	m.lastConnectedAt = &now
	m.log.Info().Str("module", "client").Str("identity", identity).Msg("connected")

	go m.receiveLoop(gen, tr)
	return nil
}

// receiveLoop pumps envelopes into the batcher until the transport's
// receive channel closes, which signals transport loss.
func (m *Manager) receiveLoop(gen int, tr transport.Transport) {
	for env := range tr.Receive() {
		m.mu.Lock()
		batcher := m.batcher
		stale := gen != m.gen
		m.mu.Unlock()
		if stale {
			return
		}
		if batcher != nil {
			batcher.Enqueue(env)
		}
	}
	m.transportLost(gen)
}

// transportLost moves the state machine to disconnected and schedules a
// reconnect while the identity is still present.
func (m *Manager) transportLost(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return
	}

	m.tr = nil
	m.status = StatusDisconnected

	if m.identity == "" {
		return
	}

	m.log.Warn().Str("module", "client").Msg("transport lost")
	m.scheduleRetryLocked()
}

// scheduleRetryLocked arms the backoff timer. After maxAttempts failed
// retries no further automatic attempt is made; the state stays
// disconnected with the attempt counter at the cap until ForceReconnect.
func (m *Manager) scheduleRetryLocked() {
	if m.attempts >= m.maxAttempts {
		m.log.Warn().Str("module", "client").Int("attempts", m.attempts).Msg("retry budget exhausted")
		return
	}

	delay := m.backoffDelay(m.attempts)
	gen := m.gen
	m.retryTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if gen != m.gen || m.identity == "" {
			m.mu.Unlock()
			return
		}
		m.attempts++
		m.retryTimer = nil
		m.mu.Unlock()
		m.attemptConnect()
	})
	m.log.Debug().Str("module", "client").Dur("delay", delay).Int("attempt", m.attempts).Msg("retry scheduled")
}

// backoffDelay returns min(2^attempt, 16) backoff units.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	factor := 1 << attempt
	if factor > backoffCapFactor {
		factor = backoffCapFactor
	}
	return time.Duration(factor) * m.backoffUnit
}

func (m *Manager) cancelRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) closeTransportLocked() {
	m.gen++
	if m.tr != nil {
		m.tr.Close()
		m.tr = nil
	}
	m.status = StatusDisconnected
}

func (m *Manager) teardownLocked() {
	m.cancelRetryLocked()
	m.closeTransportLocked()
	m.attempts = 0
}
