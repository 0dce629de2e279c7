package handlers

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pelusa-v/pelusa-chat/internal/chat"
)

// Handler serves the websocket endpoint and the read-only REST API.
type Handler struct {
	engine *chat.Engine
	rate   rate.Limit
	burst  int
	logger *slog.Logger
}

func NewHandler(engine *chat.Engine, messageRate float64, burst int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine: engine,
		rate:   rate.Limit(messageRate),
		burst:  burst,
		logger: logger,
	}
}

// SocketHandler GET /api/ws and GET /api/ws/register/:nick
//
// With a nick in the path the connection registers right away and the
// result is pushed as an ack without an id.
func (h *Handler) SocketHandler(conn *websocket.Conn) {
	id := uuid.NewString()
	var limiter *rate.Limiter
	if h.rate > 0 {
		limiter = rate.NewLimiter(h.rate, h.burst)
	}
	client := chat.NewClient(id, conn, limiter)
	h.engine.Connect(client)

	if nick := strings.TrimSpace(conn.Params("nick")); nick != "" {
		data, _ := json.Marshal(nick)
		ack := h.engine.Dispatch(id, chat.Request{Event: chat.ReqRegister, Data: data})
		h.engine.Hub().Reply(id, nil, ack)
	}

	go client.WritePump()
	client.ReadPump(h.engine)
}

// UsersHandler GET /api/users
func (h *Handler) UsersHandler(c *fiber.Ctx) error {
	return c.JSON(h.engine.Users())
}

// GroupsHandler GET /api/groups?nick=
func (h *Handler) GroupsHandler(c *fiber.Ctx) error {
	nick := strings.TrimSpace(c.Query("nick"))
	return c.JSON(h.engine.GroupsFor(nick))
}

// GroupHandler GET /api/groups/:name?nick=
func (h *Handler) GroupHandler(c *fiber.Ctx) error {
	g, ok := h.engine.Group(strings.TrimSpace(c.Params("name")))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, chat.ErrGroupNotFound.Error())
	}
	return c.JSON(g.ViewFor(strings.TrimSpace(c.Query("nick"))))
}

// InboxHandler GET /api/inbox/:nick
func (h *Handler) InboxHandler(c *fiber.Ctx) error {
	return c.JSON(h.engine.Inbox(c.Params("nick")))
}

// WorldHistoryHandler GET /api/world/history
func (h *Handler) WorldHistoryHandler(c *fiber.Ctx) error {
	return c.JSON(h.engine.WorldHistory())
}

// HealthHandler GET /health
func (h *Handler) HealthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "ok",
		"connections": h.engine.Hub().Count(),
		"users":       len(h.engine.Users()),
	})
}

// upgradeOnly rejects plain HTTP requests on websocket routes.
func upgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
