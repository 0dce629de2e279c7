package chat

import (
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"golang.org/x/time/rate"
)

// SendBuffer is the number of frames queued per client before drops start.
const SendBuffer = 64

type Client struct {
	ID   string
	Conn ConnLike
	Send chan []byte

	limiter *rate.Limiter
	done    chan struct{}
	once    sync.Once
}

type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

// NewClient wraps a connection. A nil limiter disables inbound rate limiting.
func NewClient(id string, conn ConnLike, limiter *rate.Limiter) *Client {
	return &Client{
		ID:      id,
		Conn:    conn,
		Send:    make(chan []byte, SendBuffer),
		limiter: limiter,
		done:    make(chan struct{}),
	}
}

// enqueue never blocks: a slow client loses frames rather than stalling a room.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// Close stops the write pump and closes the connection. Safe to call twice.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.Conn != nil {
			_ = c.Conn.Close()
		}
	})
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// ReadPump decodes frames and dispatches them until the connection fails,
// then disconnects the client from the engine.
func (c *Client) ReadPump(e *Engine) {
	defer e.Disconnect(c.ID)
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			e.hub.Reply(c.ID, nil, failure(ErrInvalidPayload))
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			e.hub.Reply(c.ID, req.ID, failure(ErrRateLimited))
			continue
		}
		e.hub.Reply(c.ID, req.ID, e.Dispatch(c.ID, req))
	}
}

func (c *Client) WritePump() {
	for {
		select {
		case data := <-c.Send:
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
