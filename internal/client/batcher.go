package client

import (
	"sync"
	"time"

	"chamahub/pkg/types"
)

// Batching parameters tuned for bursty event streams: a drain applies at
// most DefaultBatchSize envelopes, at most once per DefaultBatchDelay.
const (
	DefaultBatchSize  = 10
	DefaultBatchDelay = 100 * time.Millisecond
)

// Batcher coalesces inbound envelopes into bounded batches applied on a
// timer. Enqueue never blocks on the apply function and no envelope is
// ever dropped while the batcher is running; per-collection order is the
// enqueue order.
//
// The apply callback runs with the batcher's internal lock held, so it
// must not call back into Enqueue or Stop.
type Batcher struct {
	mu      sync.Mutex
	queue   []types.Envelope
	timer   *time.Timer
	size    int
	delay   time.Duration
	apply   func([]types.Envelope)
	stopped bool
}

// NewBatcher creates a batcher feeding apply. Non-positive size or delay
// fall back to the defaults.
func NewBatcher(size int, delay time.Duration, apply func([]types.Envelope)) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if delay <= 0 {
		delay = DefaultBatchDelay
	}
	return &Batcher{size: size, delay: delay, apply: apply}
}

// Enqueue appends env to the intake queue and schedules a drain if none is
// pending. Envelopes arriving after Stop are discarded.
func (b *Batcher) Enqueue(env types.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}

	b.queue = append(b.queue, env)
	if b.timer == nil {
		b.timer = time.AfterFunc(b.delay, b.drain)
	}
}

// drain applies up to size envelopes in order as one state transition,
// then reschedules itself while the queue is non-empty.
func (b *Batcher) drain() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}

	n := len(b.queue)
	if n > b.size {
		n = b.size
	}

	if n > 0 {
		batch := make([]types.Envelope, n)
		copy(batch, b.queue)
		b.queue = b.queue[n:]
		b.apply(batch)
	}

	if len(b.queue) > 0 {
		b.timer = time.AfterFunc(b.delay, b.drain)
	} else {
		b.timer = nil
	}
}

// Stop cancels the pending drain and flushes the residual queue so no
// received envelope is silently discarded on teardown. The flush keeps the
// per-drain size bound. Idempotent.
func (b *Batcher) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}
	b.stopped = true

	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}

	for len(b.queue) > 0 {
		n := len(b.queue)
		if n > b.size {
			n = b.size
		}
		batch := make([]types.Envelope, n)
		copy(batch, b.queue)
		b.queue = b.queue[n:]
		b.apply(batch)
	}
	b.queue = nil
}

// Pending returns the number of queued envelopes, for observability.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
