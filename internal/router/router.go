package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/talkbase/realtime-api/internal/config"
	"github.com/talkbase/realtime-api/internal/handler"
	"github.com/talkbase/realtime-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	RoomHandler     *handler.RoomHandler
	MessageHandler  *handler.MessageHandler
	PresenceHandler *handler.PresenceHandler
	GatewayHandler  *handler.GatewayHandler
	JWTMiddleware   fiber.Handler
	SocketAuth      fiber.Handler
}

// Register wires the HTTP and websocket routes into the fiber
// application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	protected := api.Group("", jwtMiddleware)
	if deps.RoomHandler != nil {
		deps.RoomHandler.Register(protected)
	}
	if deps.MessageHandler != nil {
		deps.MessageHandler.Register(protected)
	}
	if deps.PresenceHandler != nil {
		deps.PresenceHandler.Register(protected)
	}

	if deps.GatewayHandler != nil {
		socketAuth := deps.SocketAuth
		if socketAuth == nil {
			socketAuth = func(c *fiber.Ctx) error { return c.Next() }
		}
		ws := app.Group("", socketAuth)
		deps.GatewayHandler.Register(ws)
	}
}
