package api

import "sync"

// Hub fans out "collection changed" signals per owner. Signals coalesce:
// a subscriber that has not consumed the previous one does not queue another,
// so publishers never block and a slow stream only ever re-reads the latest
// collection.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan struct{}]struct{}
	closed bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan struct{}]struct{})}
}

// Subscribe registers for ownerID's changes. The returned channel is closed
// by unsubscribe or by Close.
func (h *Hub) Subscribe(ownerID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	if h.subs[ownerID] == nil {
		h.subs[ownerID] = make(map[chan struct{}]struct{})
	}
	h.subs[ownerID][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ownerID][ch]; !ok {
				return
			}
			delete(h.subs[ownerID], ch)
			if len(h.subs[ownerID]) == 0 {
				delete(h.subs, ownerID)
			}
			close(ch)
		})
	}
}

// Publish signals every subscriber of ownerID without blocking.
func (h *Hub) Publish(ownerID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ownerID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of open subscriptions for ownerID.
func (h *Hub) Subscribers(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ownerID])
}

// Close closes all subscriber channels. Later subscriptions are closed
// immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for owner, subs := range h.subs {
		for ch := range subs {
			close(ch)
		}
		delete(h.subs, owner)
	}
}
