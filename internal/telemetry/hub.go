package telemetry

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"
)

// Hub fans the live sample stream out to subscribers and remembers the
// most recent sample for pull-style consumers. It implements Sink, so it
// can sit next to the recorder on the scheduler's sink list. Slow
// subscribers miss samples rather than stalling the tick path.
type Hub struct {
	mu          sync.Mutex
	last        Sample
	hasLast     bool
	subscribers map[string]chan Sample
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]chan Sample),
	}
}

func subscriberID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Push records s as the latest sample and offers it to every subscriber
// without blocking.
func (h *Hub) Push(s Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = s
	h.hasLast = true
	for _, ch := range h.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
}

// Latest returns the most recent sample, if any has been pushed.
func (h *Hub) Latest() (Sample, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.hasLast
}

// Subscribe registers a new live stream consumer. The returned ID is
// passed to Unsubscribe when done.
func (h *Hub) Subscribe() (string, <-chan Sample) {
	id := subscriberID()
	ch := make(chan Sample, 16)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}
