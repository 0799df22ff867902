package client

import (
	"sync"

	"chamahub/pkg/types"
)

// Notifications is the queue of ephemeral cross-room notices. Entries are
// never deduplicated and the queue has no capacity bound; it lives and
// dies with the client that owns it.
type Notifications struct {
	mu    sync.Mutex
	items []types.Notification
}

func NewNotifications() *Notifications {
	return &Notifications{}
}

// Push appends a notification. Repeats of the same semantic event are
// allowed and expected.
func (n *Notifications) Push(notif types.Notification) {
	n.mu.Lock()
	n.items = append(n.items, notif)
	n.mu.Unlock()
}

// MarkRead removes exactly the notification with the given id. An unknown
// id is a no-op, not an error.
func (n *Notifications) MarkRead(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, item := range n.items {
		if item.ID == id {
			n.items = append(n.items[:i], n.items[i+1:]...)
			return
		}
	}
}

// ClearAll empties the queue unconditionally.
func (n *Notifications) ClearAll() {
	n.mu.Lock()
	n.items = nil
	n.mu.Unlock()
}

// List returns a copy of the queued notifications.
func (n *Notifications) List() []types.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]types.Notification, len(n.items))
	copy(out, n.items)
	return out
}

// Len returns the queue length.
func (n *Notifications) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.items)
}
