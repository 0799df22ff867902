package client

import (
	"errors"
	"testing"
	"time"

	"chamahub/internal/broker"
	"chamahub/internal/transport"
	"chamahub/pkg/types"
)

func newTestManager(d transport.Dialer) *Manager {
	return NewManager(d,
		WithBackoffUnit(2*time.Millisecond),
		WithBatching(10, 2*time.Millisecond),
	)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectJoinSendRoundTrip(t *testing.T) {
	b := broker.New()
	dialer := &transport.LoopbackDialer{Broker: b}
	m := newTestManager(dialer)
	defer m.Disconnect()

	if err := m.Connect("alice"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := m.Status(); got != StatusConnected {
		t.Fatalf("status = %v, want connected", got)
	}
	if m.LastConnectedAt() == nil {
		t.Fatal("LastConnectedAt is nil after connect")
	}

	if err := m.JoinRoom("general"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if err := m.SendMessage("general", "hello chama", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	state := m.State()
	waitFor(t, "message to land in local state", func() bool {
		return state.MessageCount("general") == 1
	})

	msgs := state.Messages("general")
	if msgs[0].Content != "hello chama" || msgs[0].Sender != "alice" {
		t.Fatalf("unexpected message %+v", msgs[0])
	}
	if msgs[0].ID == "" || msgs[0].Timestamp.IsZero() {
		t.Fatal("message missing server-assigned id or timestamp")
	}
}

func TestSendFailsFastWithoutConnection(t *testing.T) {
	b := broker.New()
	dialer := &transport.LoopbackDialer{Broker: b}

	m := newTestManager(dialer)
	if err := m.SendMessage("general", "hi", nil); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("send before Connect = %v, want ErrNoIdentity", err)
	}

	if err := m.Connect("alice"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	m.Disconnect()
	if err := m.SendMessage("general", "hi", nil); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("send after Disconnect = %v, want ErrNoIdentity", err)
	}
}

func TestSendWhileReconnectingFailsFast(t *testing.T) {
	b := broker.New()
	dialer := &transport.LoopbackDialer{Broker: b}
	// A long backoff unit keeps the retry from firing during the test.
	m := NewManager(dialer, WithBackoffUnit(time.Minute), WithBatching(10, 2*time.Millisecond))
	defer m.Disconnect()

	if err := m.Connect("alice"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Killing the broker-side subscription closes the transport's receive
	// channel, which the manager reads as transport loss.
	severAll(b)
	waitFor(t, "manager to notice transport loss", func() bool {
		return m.Status() == StatusDisconnected
	})

	if err := m.SendMessage("general", "hi", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("send while disconnected = %v, want ErrNotConnected", err)
	}
}

// severAll detaches every live broker connection, closing the attached
// transports from the server side.
func severAll(b *broker.Broker) {
	for _, conn := range b.Connections() {
		b.Detach(conn)
	}
}

func TestTransportLossTriggersReconnect(t *testing.T) {
	b := broker.New()
	dialer := &transport.LoopbackDialer{Broker: b}
	m := newTestManager(dialer)
	defer m.Disconnect()

	if err := m.Connect("alice"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.JoinRoom("general"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	severAll(b)
	waitFor(t, "automatic reconnect", func() bool {
		return m.Status() == StatusConnected && dialer.Dials() == 2
	})
}

func TestBackoffScheduleDoublesPerAttempt(t *testing.T) {
	unit := 10 * time.Millisecond
	m := NewManager(&transport.LoopbackDialer{}, WithBackoffUnit(unit))

	// Delays for attempts 0..4 double each time; the cap holds beyond.
	factors := []int{1, 2, 4, 8, 16, 16, 16}
	for attempt, factor := range factors {
		want := time.Duration(factor) * unit
		if got := m.backoffDelay(attempt); got != want {
			t.Errorf("backoffDelay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestBackoffRetriesAreNotImmediate(t *testing.T) {
	b := broker.New()
	dialer := &transport.LoopbackDialer{Broker: b}
	dialer.FailNext(2)
	unit := 15 * time.Millisecond
	m := NewManager(dialer, WithBackoffUnit(unit), WithBatching(10, 2*time.Millisecond))
	defer m.Disconnect()

	start := time.Now()
	m.Connect("alice")
	waitFor(t, "reconnect after two failures", func() bool {
		return m.Status() == StatusConnected
	})

	// Two failed dials schedule waits of 1 and 2 units, so the successful
	// third dial cannot land before 3 units have passed.
	if elapsed := time.Since(start); elapsed < 3*unit {
		t.Fatalf("reconnected after %v, want at least %v", elapsed, 3*unit)
	}
	if got := dialer.Dials(); got != 3 {
		t.Fatalf("dials = %d, want 3", got)
	}
}

func TestBackoffRetriesUntilDialSucceeds(t *testing.T) {
	b := broker.New()
	dialer := &transport.LoopbackDialer{Broker: b}
	dialer.FailNext(3)
	m := newTestManager(dialer)
	defer m.Disconnect()

	err := m.Connect("alice")
	if !errors.Is(err, transport.ErrDialFailed) {
		t.Fatalf("Connect with failing dialer = %v, want ErrDialFailed", err)
	}

	waitFor(t, "reconnect after backoff", func() bool {
		return m.Status() == StatusConnected
	})
	if got := dialer.Dials(); got != 4 {
		t.Fatalf("dials = %d, want 4 (three failures, then success)", got)
	}
	if got := m.ReconnectAttempts(); got != 0 {
		t.Fatalf("attempts after success = %d, want 0", got)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	b := broker.New()
	dialer := &transport.LoopbackDialer{Broker: b}
	dialer.FailNext(100)
	m := newTestManager(dialer)
	defer m.Disconnect()

	if err := m.Connect("alice"); err == nil {
		t.Fatal("Connect should fail with failing dialer")
	}

	// Initial dial plus five retries, then the manager gives up.
	waitFor(t, "retry budget to run out", func() bool {
		return dialer.Dials() == 6 && m.ReconnectAttempts() == DefaultMaxAttempts
	})
	time.Sleep(100 * time.Millisecond)
	if got := dialer.Dials(); got != 6 {
		t.Fatalf("dials after giving up = %d, want 6", got)
	}
	if got := m.Status(); got != StatusDisconnected {
		t.Fatalf("status = %v, want disconnected", got)
	}
	if info := m.StatusInfo(); info.Message != "Reconnecting... (5/5)" {
		t.Fatalf("status message = %q", info.Message)
	}
}

func TestForceReconnectResetsBudget(t *testing.T) {
	b := broker.New()
	dialer := &transport.LoopbackDialer{Broker: b}
	dialer.FailNext(6)
	m := newTestManager(dialer)
	defer m.Disconnect()

	m.Connect("alice")
	waitFor(t, "retry budget to run out", func() bool {
		return dialer.Dials() == 6 && m.Status() == StatusDisconnected
	})

	if err := m.ForceReconnect(); err != nil {
		t.Fatalf("ForceReconnect: %v", err)
	}
	if got := m.Status(); got != StatusConnected {
		t.Fatalf("status after ForceReconnect = %v, want connected", got)
	}
	if got := m.ReconnectAttempts(); got != 0 {
		t.Fatalf("attempts after ForceReconnect = %d, want 0", got)
	}
}

func TestDisconnectCancelsPendingRetry(t *testing.T) {
	b := broker.New()
	dialer := &transport.LoopbackDialer{Broker: b}
	dialer.FailNext(100)
	m := NewManager(dialer, WithBackoffUnit(5*time.Millisecond), WithBatching(10, 2*time.Millisecond))

	m.Connect("alice")
	m.Disconnect()
	dials := dialer.Dials()
	time.Sleep(50 * time.Millisecond)
	if got := dialer.Dials(); got != dials {
		t.Fatalf("dials grew from %d to %d after Disconnect", dials, got)
	}
}

func TestReconnectingStopsPreviousBatcher(t *testing.T) {
	b := broker.New()
	dialer := &transport.LoopbackDialer{Broker: b}
	m := newTestManager(dialer)
	defer m.Disconnect()

	if err := m.Connect("alice"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	m.mu.Lock()
	old := m.batcher
	m.mu.Unlock()

	if err := m.Connect("bob"); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	// The replaced batcher must be stopped: its timer is cancelled and
	// anything enqueued afterwards is discarded, never applied into the
	// abandoned state.
	old.Enqueue(msgEnvelope(0))
	if got := old.Pending(); got != 0 {
		t.Fatalf("old batcher accepted envelope after reconnect, pending = %d", got)
	}
}

func TestVoteRoundTripResolvesOwnBallotOnly(t *testing.T) {
	b := broker.New()
	dialer := &transport.LoopbackDialer{Broker: b}

	alice := newTestManager(dialer)
	bob := newTestManager(dialer)
	defer alice.Disconnect()
	defer bob.Disconnect()

	if err := alice.Connect("alice"); err != nil {
		t.Fatalf("alice Connect: %v", err)
	}
	if err := bob.Connect("bob"); err != nil {
		t.Fatalf("bob Connect: %v", err)
	}
	for _, m := range []*Manager{alice, bob} {
		if err := m.JoinRoom("treasury"); err != nil {
			t.Fatalf("JoinRoom: %v", err)
		}
	}

	deadline := time.Now().Add(time.Hour)
	if err := alice.CreateProposal("treasury", "Increase contribution", "", []string{"yes", "no"}, deadline); err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	waitFor(t, "proposal to reach bob", func() bool {
		return len(bob.State().Proposals("treasury")) == 1
	})

	propID := bob.State().Proposals("treasury")[0].ID
	if err := bob.Vote("treasury", propID, 0); err != nil {
		t.Fatalf("Vote: %v", err)
	}

	waitFor(t, "vote delta to land on both clients", func() bool {
		ap := alice.State().Proposals("treasury")
		bp := bob.State().Proposals("treasury")
		return len(ap) == 1 && ap[0].Votes[0] == 1 && len(bp) == 1 && bp[0].Votes[0] == 1
	})

	if !bob.State().Proposals("treasury")[0].HasVoted {
		t.Fatal("voter's own HasVoted flag not set")
	}
	if alice.State().Proposals("treasury")[0].HasVoted {
		t.Fatal("non-voter's HasVoted flag set")
	}
}

func TestValidationRejectedAtClientBoundary(t *testing.T) {
	b := broker.New()
	dialer := &transport.LoopbackDialer{Broker: b}
	m := newTestManager(dialer)
	defer m.Disconnect()

	if err := m.Connect("alice"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.SendMessage("general", "", nil); !errors.Is(err, types.ErrEmptyContent) {
		t.Fatalf("empty message = %v, want ErrEmptyContent", err)
	}
	if err := m.CreateProposal("general", "t", "", []string{"only"}, time.Now().Add(time.Hour)); !errors.Is(err, types.ErrTooFewOptions) {
		t.Fatalf("single-option proposal = %v, want ErrTooFewOptions", err)
	}
	if err := m.CreateAnnouncement("general", "t", "c", "urgent"); !errors.Is(err, types.ErrInvalidPriority) {
		t.Fatalf("bad priority = %v, want ErrInvalidPriority", err)
	}
}

func TestStatusInfoMessages(t *testing.T) {
	b := broker.New()
	dialer := &transport.LoopbackDialer{Broker: b}
	m := newTestManager(dialer)

	if info := m.StatusInfo(); info.Status != "disconnected" {
		t.Fatalf("initial status = %q", info.Status)
	}

	if err := m.Connect("alice"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	info := m.StatusInfo()
	if info.Status != "connected" || info.Message != "Connected to real-time services" {
		t.Fatalf("connected info = %+v", info)
	}
	if info.LastConnectedAt == nil {
		t.Fatal("connected info missing LastConnectedAt")
	}

	m.Disconnect()
	if info := m.StatusInfo(); info.Status != "disconnected" {
		t.Fatalf("post-disconnect status = %q", info.Status)
	}
}
