package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/talkbase/realtime-api/internal/dto"
	"github.com/talkbase/realtime-api/internal/middleware"
	"github.com/talkbase/realtime-api/internal/service"
	"github.com/talkbase/realtime-api/internal/utils"
)

// RoomHandler exposes the room directory over HTTP. Mutations go
// through the gateway so live sockets observe them exactly as if they
// had arrived over the socket transport.
type RoomHandler struct {
	gateway service.Gateway
	logger  zerolog.Logger
}

// NewRoomHandler creates a room handler instance.
func NewRoomHandler(gateway service.Gateway, logger zerolog.Logger) *RoomHandler {
	return &RoomHandler{
		gateway: gateway,
		logger:  logger.With().Str("component", "room_handler").Logger(),
	}
}

// Register binds room routes under the provided router group.
func (h *RoomHandler) Register(router fiber.Router) {
	rooms := router.Group("/rooms")
	rooms.Post("/", h.create)
	rooms.Get("/", h.list)
	rooms.Post("/:id/join", h.join)
	rooms.Post("/:id/members", h.addMembers)
	rooms.Delete("/:id/members/:userId", h.removeMember)
	rooms.Delete("/:id", h.remove)
	rooms.Post("/:id/read", h.markRead)
	rooms.Get("/:id/messages", h.history)
	rooms.Post("/:id/messages", h.sendMessage)
	rooms.Get("/:id/pins", h.pins)
}

func (h *RoomHandler) create(c *fiber.Ctx) error {
	var req dto.RoomCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	room, err := h.gateway.CreateRoom(requestContext(c), middleware.UserID(c), req)
	if err != nil {
		return utils.SendAppError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "room created", room)
}

func (h *RoomHandler) list(c *fiber.Ctx) error {
	rooms, err := h.gateway.ListRooms(requestContext(c), middleware.UserID(c))
	if err != nil {
		return utils.SendAppError(c, err)
	}

	return utils.SendSuccess(c, "rooms", rooms)
}

func (h *RoomHandler) join(c *fiber.Ctx) error {
	room, err := h.gateway.JoinChannel(requestContext(c), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return utils.SendAppError(c, err)
	}

	return utils.SendSuccess(c, "channel joined", room)
}

func (h *RoomHandler) addMembers(c *fiber.Ctx) error {
	var req dto.RoomAddMembersRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	added, err := h.gateway.AddMembers(requestContext(c), middleware.UserID(c), c.Params("id"), req.UserIDs)
	if err != nil {
		return utils.SendAppError(c, err)
	}

	return utils.SendSuccess(c, "members added", added)
}

func (h *RoomHandler) removeMember(c *fiber.Ctx) error {
	if err := h.gateway.RemoveMember(requestContext(c), middleware.UserID(c), c.Params("id"), c.Params("userId")); err != nil {
		return utils.SendAppError(c, err)
	}

	return utils.SendSuccess(c, "member removed", nil)
}

func (h *RoomHandler) remove(c *fiber.Ctx) error {
	if err := h.gateway.DeleteRoom(requestContext(c), middleware.UserID(c), c.Params("id")); err != nil {
		return utils.SendAppError(c, err)
	}

	return utils.SendSuccess(c, "room deleted", nil)
}

func (h *RoomHandler) markRead(c *fiber.Ctx) error {
	if err := h.gateway.MarkRead(requestContext(c), middleware.UserID(c), c.Params("id")); err != nil {
		return utils.SendAppError(c, err)
	}

	return utils.SendSuccess(c, "room marked read", nil)
}

func (h *RoomHandler) history(c *fiber.Ctx) error {
	query := dto.MessageHistoryQuery{RoomID: c.Params("id")}
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}
	query.RoomID = c.Params("id")

	messages, err := h.gateway.History(requestContext(c), middleware.UserID(c), query)
	if err != nil {
		return utils.SendAppError(c, err)
	}

	return utils.SendSuccess(c, "message history", messages)
}

func (h *RoomHandler) sendMessage(c *fiber.Ctx) error {
	var req dto.MessageSendRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.RoomID = c.Params("id")

	message, err := h.gateway.SendMessage(requestContext(c), middleware.UserID(c), req)
	if err != nil {
		return utils.SendAppError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *RoomHandler) pins(c *fiber.Ctx) error {
	messages, err := h.gateway.ListPinned(requestContext(c), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return utils.SendAppError(c, err)
	}

	return utils.SendSuccess(c, "pinned messages", messages)
}

// requestContext carries the correlation identifier from the request
// into the service layer.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}
