package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/talkbase/realtime-api/internal/dto"
	"github.com/talkbase/realtime-api/internal/middleware"
	"github.com/talkbase/realtime-api/internal/service"
	"github.com/talkbase/realtime-api/internal/utils"
)

// MessageHandler exposes the message pipeline over HTTP, mirroring the
// socket operations through the same gateway methods.
type MessageHandler struct {
	gateway service.Gateway
	logger  zerolog.Logger
}

// NewMessageHandler creates a message handler instance.
func NewMessageHandler(gateway service.Gateway, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		gateway: gateway,
		logger:  logger.With().Str("component", "message_handler").Logger(),
	}
}

// Register binds message routes under the provided router group.
func (h *MessageHandler) Register(router fiber.Router) {
	messages := router.Group("/messages")
	messages.Post("/", h.send)
	messages.Delete("/:id", h.remove)
	messages.Post("/:id/pin", h.pin)
	messages.Post("/:id/unpin", h.unpin)
	messages.Post("/:id/reactions", h.react)
	messages.Delete("/:id/reactions/:emoji", h.unreact)
}

func (h *MessageHandler) send(c *fiber.Ctx) error {
	var req dto.MessageSendRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	message, err := h.gateway.SendMessage(requestContext(c), middleware.UserID(c), req)
	if err != nil {
		return utils.SendAppError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *MessageHandler) remove(c *fiber.Ctx) error {
	message, err := h.gateway.DeleteMessage(requestContext(c), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return utils.SendAppError(c, err)
	}

	return utils.SendSuccess(c, "message deleted", message)
}

func (h *MessageHandler) pin(c *fiber.Ctx) error {
	message, err := h.gateway.PinMessage(requestContext(c), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return utils.SendAppError(c, err)
	}

	return utils.SendSuccess(c, "message pinned", message)
}

func (h *MessageHandler) unpin(c *fiber.Ctx) error {
	message, err := h.gateway.UnpinMessage(requestContext(c), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return utils.SendAppError(c, err)
	}

	return utils.SendSuccess(c, "message unpinned", message)
}

func (h *MessageHandler) react(c *fiber.Ctx) error {
	var req dto.ReactionRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.MessageID = c.Params("id")

	message, err := h.gateway.AddReaction(requestContext(c), middleware.UserID(c), req)
	if err != nil {
		return utils.SendAppError(c, err)
	}

	return utils.SendSuccess(c, "reaction added", message)
}

func (h *MessageHandler) unreact(c *fiber.Ctx) error {
	req := dto.ReactionRequest{
		MessageID: c.Params("id"),
		Emoji:     c.Params("emoji"),
	}

	message, err := h.gateway.RemoveReaction(requestContext(c), middleware.UserID(c), req)
	if err != nil {
		return utils.SendAppError(c, err)
	}

	return utils.SendSuccess(c, "reaction removed", message)
}
