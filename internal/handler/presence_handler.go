package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/talkbase/realtime-api/internal/service"
	"github.com/talkbase/realtime-api/internal/utils"
)

// PresenceHandler exposes the presence tracker over HTTP.
type PresenceHandler struct {
	gateway service.Gateway
	logger  zerolog.Logger
}

// NewPresenceHandler creates a presence handler instance.
func NewPresenceHandler(gateway service.Gateway, logger zerolog.Logger) *PresenceHandler {
	return &PresenceHandler{
		gateway: gateway,
		logger:  logger.With().Str("component", "presence_handler").Logger(),
	}
}

// Register binds presence routes under the provided router group.
func (h *PresenceHandler) Register(router fiber.Router) {
	router.Get("/presence/online", h.online)
}

func (h *PresenceHandler) online(c *fiber.Ctx) error {
	users, err := h.gateway.OnlineUsers(requestContext(c))
	if err != nil {
		return utils.SendAppError(c, err)
	}

	return utils.SendSuccess(c, "online users", users)
}
