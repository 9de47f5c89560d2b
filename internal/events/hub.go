package events

import (
	"sync"
	"sync/atomic"

	"grimm.is/leasenet/internal/clock"
)

// Hub is the event bus. Fan-out never blocks the publisher: a subscriber
// whose channel is full misses the event and the drop is counted.
type Hub struct {
	clock clock.Clock

	mu     sync.RWMutex
	subs   map[EventType][]chan Event
	global []chan Event
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates a hub stamping events from clk. With a nil clock events
// must carry their own timestamps.
func NewHub(clk clock.Clock) *Hub {
	return &Hub{
		clock: clk,
		subs:  make(map[EventType][]chan Event),
	}
}

// Publish sends an event to every subscriber of its type and to the global
// subscribers. Publishing on a closed hub is a no-op.
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() && h.clock != nil {
		e.Timestamp = h.clock.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	h.published.Add(1)
	for _, ch := range h.subs[e.Type] {
		h.send(ch, e)
	}
	for _, ch := range h.global {
		h.send(ch, e)
	}
}

func (h *Hub) send(ch chan Event, e Event) {
	select {
	case ch <- e:
	default:
		h.dropped.Add(1)
	}
}

// Subscribe returns a channel that receives events of the given types, or
// every event when no types are given. The caller must drain it.
func (h *Hub) Subscribe(bufSize int, types ...EventType) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}
	ch := make(chan Event, bufSize)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}

	if len(types) == 0 {
		h.global = append(h.global, ch)
	} else {
		for _, t := range types {
			h.subs[t] = append(h.subs[t], ch)
		}
	}
	return ch
}

// Unsubscribe removes a channel from all subscriptions without closing it.
func (h *Hub) Unsubscribe(ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.global = removeFromSlice(h.global, ch)
	for t, subs := range h.subs {
		h.subs[t] = removeFromSlice(subs, ch)
	}
}

// Close closes every subscriber channel. Further publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true

	seen := make(map[chan Event]bool)
	closeOnce := func(ch chan Event) {
		if !seen[ch] {
			seen[ch] = true
			close(ch)
		}
	}
	for _, ch := range h.global {
		closeOnce(ch)
	}
	for _, subs := range h.subs {
		for _, ch := range subs {
			closeOnce(ch)
		}
	}
	h.global = nil
	h.subs = make(map[EventType][]chan Event)
}

// Stats returns publish and drop counts.
func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}

func removeFromSlice(slice []chan Event, target <-chan Event) []chan Event {
	result := make([]chan Event, 0, len(slice))
	for _, ch := range slice {
		if ch != target {
			result = append(result, ch)
		}
	}
	return result
}
