package chat

import "sync"

// WorldHistorySize is how many world messages are replayed to new connections.
const WorldHistorySize = 100

// History is a fixed-size ring of world messages, oldest evicted first.
type History struct {
	mu    sync.Mutex
	buf   []Message
	start int
	size  int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = WorldHistorySize
	}
	return &History{buf: make([]Message, capacity)}
}

// Append adds m, evicting the oldest message when full.
func (h *History) Append(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = m
		h.size++
		return
	}
	h.buf[h.start] = m
	h.start = (h.start + 1) % len(h.buf)
}

// Snapshot returns the stored messages, oldest first.
func (h *History) Snapshot() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Len is the number of stored messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}
