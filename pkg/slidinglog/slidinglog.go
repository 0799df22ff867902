// Package slidinglog provides a bounded, order-preserving append-only log
// with FIFO eviction. Appending beyond capacity silently drops the oldest
// entry; eviction is observable through Len and Items but is never an error.
package slidinglog

// Log is a fixed-capacity ring buffer. Append is O(1); the zero value is not
// usable, construct with New.
type Log[T any] struct {
	buf  []T
	head int // index of the oldest entry
	n    int // number of live entries
}

// DefaultCapacity matches the message history ceiling kept in memory.
const DefaultCapacity = 1000

// New creates a log holding at most capacity entries. A non-positive
// capacity falls back to DefaultCapacity.
func New[T any](capacity int) *Log[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log[T]{buf: make([]T, capacity)}
}

// Append adds item at the tail, evicting the oldest entry first when the
// log is full.
func (l *Log[T]) Append(item T) {
	if l.n == len(l.buf) {
		// Overwrite the oldest slot and advance the head.
		l.buf[l.head] = item
		l.head = (l.head + 1) % len(l.buf)
		return
	}
	l.buf[(l.head+l.n)%len(l.buf)] = item
	l.n++
}

// Len returns the number of live entries.
func (l *Log[T]) Len() int { return l.n }

// Capacity returns the maximum number of entries the log can hold.
func (l *Log[T]) Capacity() int { return len(l.buf) }

// At returns the entry at logical index i, 0 being the oldest. It panics if
// i is out of range, mirroring slice indexing.
func (l *Log[T]) At(i int) T {
	if i < 0 || i >= l.n {
		panic("slidinglog: index out of range")
	}
	return l.buf[(l.head+i)%len(l.buf)]
}

// Items returns a copy of all entries, oldest first.
func (l *Log[T]) Items() []T {
	return l.Slice(0, l.n)
}

// Slice returns a copy of entries in the logical range [from, to). Bounds
// are clamped to the live range, so callers may pass estimates.
func (l *Log[T]) Slice(from, to int) []T {
	if from < 0 {
		from = 0
	}
	if to > l.n {
		to = l.n
	}
	if from >= to {
		return nil
	}
	out := make([]T, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, l.buf[(l.head+i)%len(l.buf)])
	}
	return out
}

// Last returns a copy of the newest n entries, oldest first. If n exceeds
// the live count the whole log is returned.
func (l *Log[T]) Last(n int) []T {
	if n > l.n {
		n = l.n
	}
	return l.Slice(l.n-n, l.n)
}
