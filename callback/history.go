package callback

import "sync"

// DefaultHistorySize is the event ring capacity.
const DefaultHistorySize = 1024

// history keeps the most recent events in a fixed-size ring.
type history struct {
	mu    sync.Mutex
	ring  []Event
	next  int
	count int
}

func newHistory(size int) *history {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &history{ring: make([]Event, size)}
}

func (h *history) append(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.next] = event
	h.next = (h.next + 1) % len(h.ring)
	if h.count < len(h.ring) {
		h.count++
	}
}

// snapshot returns the retained events, oldest first.
func (h *history) snapshot() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, 0, h.count)
	start := h.next - h.count
	if start < 0 {
		start += len(h.ring)
	}
	for i := 0; i < h.count; i++ {
		out = append(out, h.ring[(start+i)%len(h.ring)])
	}
	return out
}
