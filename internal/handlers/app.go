package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// AppConfig holds the HTTP-facing settings.
type AppConfig struct {
	AllowedOrigins string
	AccessLog      bool
	Logger         *slog.Logger
}

// NewApp builds the fiber app with middleware and routes.
func NewApp(h *Handler, cfg AppConfig) *fiber.App {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	app := fiber.New(fiber.Config{
		AppName:               "pelusa-chat",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(cfg.Logger),
	})

	app.Use(recover.New())
	if cfg.AccessLog {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} ${method} ${path} ${latency}\n",
		}))
	}
	if cfg.AllowedOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.AllowedOrigins,
			AllowMethods: "GET,OPTIONS",
		}))
	}

	Routes(app, h)
	return app
}

// Routes registers every endpoint on app.
func Routes(app *fiber.App, h *Handler) {
	app.Get("/health", h.HealthHandler)

	app.Use("/api/ws", upgradeOnly)
	app.Get("/api/ws", websocket.New(h.SocketHandler))
	app.Get("/api/ws/register/:nick", websocket.New(h.SocketHandler))

	api := app.Group("/api")
	api.Get("/users", h.UsersHandler)
	api.Get("/groups", h.GroupsHandler)      // ?nick=
	api.Get("/groups/:name", h.GroupHandler) // ?nick=
	api.Get("/inbox/:nick", h.InboxHandler)
	api.Get("/world/history", h.WorldHistoryHandler)
}

func errorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		if code >= fiber.StatusInternalServerError {
			log.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
			return c.Status(code).JSON(fiber.Map{"error": "internal error"})
		}
		return c.Status(code).JSON(fiber.Map{"error": err.Error()})
	}
}
