package api

import (
	"sync"

	"github.com/onvifeye/onvifeye/internal/publish"
)

// History keeps the most recent lifecycle events in memory for the status
// API. It implements publish.Publisher so it can sit in the fanout next to
// the broker and the websocket hub.
type History struct {
	mu   sync.Mutex
	buf  []publish.Event
	next int
	full bool
}

// NewHistory builds a ring holding up to capacity events.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 100
	}
	return &History{buf: make([]publish.Event, capacity)}
}

func (h *History) Publish(e publish.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = e
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
	return nil
}

// Recent returns the stored events, newest first.
func (h *History) Recent() []publish.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.next
	if h.full {
		n = len(h.buf)
	}
	out := make([]publish.Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.buf)) % len(h.buf)
		out = append(out, h.buf[idx])
	}
	return out
}
