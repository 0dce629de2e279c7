package chat

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Hub is the in-process delivery primitive: live clients, the rooms they
// are subscribed to, and fan-out. A publish snapshots the subscribers under
// the lock and writes outside it, so a join racing a publish may miss that
// one message.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*Client         // connID -> client
	rooms     map[string]map[string]bool // room -> set(connID)
	userRooms map[string]map[string]bool // connID -> set(room)
	logger    *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:   map[string]*Client{},
		rooms:     map[string]map[string]bool{},
		userRooms: map[string]map[string]bool{},
		logger:    logger,
	}
}

// Add attaches a client. Every client is implicitly in the world room.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// Remove detaches a client and drops all its subscriptions.
func (h *Hub) Remove(connID string) (*Client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return nil, false
	}
	for room := range h.userRooms[connID] {
		if subs := h.rooms[room]; subs != nil {
			delete(subs, connID)
			if len(subs) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	delete(h.userRooms, connID)
	delete(h.clients, connID)
	return c, true
}

// Join subscribes connID to room. Unknown connections are ignored.
func (h *Hub) Join(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[connID]; !ok {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = map[string]bool{}
	}
	h.rooms[room][connID] = true
	if h.userRooms[connID] == nil {
		h.userRooms[connID] = map[string]bool{}
	}
	h.userRooms[connID][room] = true
}

// CloseRoom unsubscribes everyone from room.
func (h *Hub) CloseRoom(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for connID := range h.rooms[room] {
		delete(h.userRooms[connID], room)
	}
	delete(h.rooms, room)
}

// Subscribed reports whether connID is subscribed to room.
func (h *Hub) Subscribed(connID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[room][connID]
}

// Publish sends event to every subscriber of room.
func (h *Hub) Publish(room, event string, data any) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for connID := range h.rooms[room] {
		if c := h.clients[connID]; c != nil {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	return h.deliver(targets, Frame{Event: event, Data: data})
}

// Broadcast sends event to every connected client.
func (h *Hub) Broadcast(event string, data any) int {
	return h.deliver(h.snapshot(), Frame{Event: event, Data: data})
}

// Emit sends event to a single connection.
func (h *Hub) Emit(connID, event string, data any) bool {
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c == nil {
		return false
	}
	return h.deliver([]*Client{c}, Frame{Event: event, Data: data}) == 1
}

// Reply writes an ack frame for request id to connID.
func (h *Hub) Reply(connID string, id *int64, ack Ack) bool {
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c == nil {
		return false
	}
	return h.deliver([]*Client{c}, Frame{Event: EventAck, ID: id, Data: ack}) == 1
}

// Count is the number of attached clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close closes every attached connection.
func (h *Hub) Close() {
	for _, c := range h.snapshot() {
		c.Close()
	}
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) deliver(targets []*Client, f Frame) int {
	if len(targets) == 0 {
		return 0
	}
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Error("failed to marshal frame", "event", f.Event, "error", err)
		return 0
	}
	sent := 0
	for _, c := range targets {
		if c.enqueue(data) {
			sent++
		} else {
			h.logger.Warn("client send buffer full, dropping frame", "conn", c.ID, "event", f.Event)
		}
	}
	return sent
}
