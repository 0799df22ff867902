package transport

import (
	"context"
	"sync"

	"chamahub/internal/broker"
	"chamahub/pkg/types"
)

// LoopbackDialer attaches directly to an in-process broker. It stands in
// for the network in tests and single-process deployments; the broker
// instance is injected, never a package-level singleton.
type LoopbackDialer struct {
	Broker *broker.Broker

	mu       sync.Mutex
	failNext int
	dials    int
}

// FailNext makes the next n Dial calls fail. Reconnect tests drive the
// backoff path with it.
func (d *LoopbackDialer) FailNext(n int) {
	d.mu.Lock()
	d.failNext = n
	d.mu.Unlock()
}

// Dials returns how many Dial attempts were made, failures included.
func (d *LoopbackDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *LoopbackDialer) Dial(ctx context.Context, identity string) (Transport, error) {
	d.mu.Lock()
	d.dials++
	if d.failNext > 0 {
		d.failNext--
		d.mu.Unlock()
		return nil, ErrDialFailed
	}
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := d.Broker.Attach(identity)
	return &loopback{broker: d.Broker, sub: sub}, nil
}

type loopback struct {
	broker    *broker.Broker
	sub       *broker.Subscription
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func (t *loopback) Send(cmd *types.Command) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return t.broker.Apply(t.sub.ID(), cmd)
}

func (t *loopback) Receive() <-chan types.Envelope {
	return t.sub.Events()
}

func (t *loopback) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		t.broker.Detach(t.sub.ID())
	})
	return nil
}
