package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/talkbase/realtime-api/internal/middleware"
	"github.com/talkbase/realtime-api/internal/service"
)

// GatewayHandler wires the websocket entry point of the realtime
// gateway.
type GatewayHandler struct {
	gateway service.Gateway
	logger  zerolog.Logger
}

// NewGatewayHandler creates the websocket handler instance.
func NewGatewayHandler(gateway service.Gateway, logger zerolog.Logger) *GatewayHandler {
	return &GatewayHandler{
		gateway: gateway,
		logger:  logger.With().Str("component", "gateway_handler").Logger(),
	}
}

// Register binds the websocket route under the provided router group.
func (h *GatewayHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.handleConnection))
}

func (h *GatewayHandler) handleConnection(conn *websocket.Conn) {
	userID := websocketUserID(conn)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusUnauthorized, "user id missing"))
		_ = conn.Close()
		return
	}

	correlation := fmt.Sprint(conn.Locals("correlation_id"))
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)

	opts := service.ConnectionOptions{
		UserID:        userID,
		SocketID:      uuid.NewString(),
		CorrelationID: correlation,
		Context:       baseCtx,
	}

	h.logger.Info().Str("user_id", userID).Str("socket_id", opts.SocketID).Msg("gateway websocket connected")
	h.gateway.ServeConnection(conn, opts)
	h.logger.Info().Str("user_id", userID).Str("socket_id", opts.SocketID).Msg("gateway websocket disconnected")
}

func websocketUserID(conn *websocket.Conn) string {
	if value := conn.Locals("user_id"); value != nil {
		switch v := value.(type) {
		case string:
			return strings.TrimSpace(v)
		case float64:
			return fmt.Sprintf("%d", uint(v))
		case uint:
			return fmt.Sprintf("%d", v)
		case int:
			return fmt.Sprintf("%d", v)
		}
	}
	return ""
}
