package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/talkbase/realtime-api/internal/apperrors"
	"github.com/talkbase/realtime-api/internal/dto"
	"github.com/talkbase/realtime-api/internal/models"
	"github.com/talkbase/realtime-api/internal/observability"
)

const (
	defaultSendBuffer   = 32
	defaultPingInterval = 30 * time.Second
)

// ConnectionOptions wraps metadata extracted during the HTTP upgrade.
type ConnectionOptions struct {
	UserID        string
	SocketID      string
	CorrelationID string
	Context       context.Context
}

// Gateway orchestrates the realtime surface: it owns live sessions and
// room subscriptions, delegates each operation to its engine, and fans
// results out to subscribers. The HTTP handlers call the same methods
// as the socket dispatcher, so behavior is identical across transports.
type Gateway interface {
	ServeConnection(conn Conn, opts ConnectionOptions)
	Start(ctx context.Context)

	CreateRoom(ctx context.Context, userID string, req dto.RoomCreateRequest) (dto.RoomResponse, error)
	JoinChannel(ctx context.Context, userID, roomID string) (dto.RoomResponse, error)
	AddMembers(ctx context.Context, requesterID, roomID string, userIDs []string) ([]dto.ParticipantResponse, error)
	RemoveMember(ctx context.Context, requesterID, roomID, userID string) error
	DeleteRoom(ctx context.Context, requesterID, roomID string) error
	ListRooms(ctx context.Context, userID string) ([]dto.RoomResponse, error)

	SendMessage(ctx context.Context, senderID string, req dto.MessageSendRequest) (dto.MessageResponse, error)
	History(ctx context.Context, userID string, query dto.MessageHistoryQuery) ([]dto.MessageResponse, error)
	DeleteMessage(ctx context.Context, userID, messageID string) (dto.MessageResponse, error)
	MarkRead(ctx context.Context, userID, roomID string) error

	AddReaction(ctx context.Context, userID string, req dto.ReactionRequest) (dto.MessageResponse, error)
	RemoveReaction(ctx context.Context, userID string, req dto.ReactionRequest) (dto.MessageResponse, error)
	PinMessage(ctx context.Context, userID, messageID string) (dto.MessageResponse, error)
	UnpinMessage(ctx context.Context, userID, messageID string) (dto.MessageResponse, error)
	ListPinned(ctx context.Context, userID, roomID string) ([]dto.MessageResponse, error)

	SetTyping(userID, roomID string, typing bool)
	InitiateCall(userID string, req dto.CallInitiateRequest) dto.CallInvitationEvent
	RespondToCall(userID string, req dto.CallResponseRequest) dto.CallStatusEvent
	EndCall(userID string, req dto.CallEndRequest) dto.CallEndedEvent

	OnlineUsers(ctx context.Context) ([]dto.PresenceResponse, error)
}

// GatewayConfig tunes gateway buffering and cross-node fan-out.
type GatewayConfig struct {
	EventsChannel string
	SendBuffer    int
	PingInterval  time.Duration
}

type gateway struct {
	rooms     RoomService
	messages  MessageService
	reactions ReactionService
	presence  PresenceService
	hub       *hub
	redis     *redis.Client
	nats      *nats.Conn
	channel   string
	subject   string
	validator *validator.Validate
	logger    zerolog.Logger
	nodeID    string
	buffer    int
	pingEvery time.Duration
}

// Frame kinds carried on the events channel. Broadcast frames deliver
// payloads; the control kinds replicate membership changes so every
// node's subscription state keeps tracking persisted membership.
const (
	frameBroadcast   = ""
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameDropRoom    = "drop_room"
)

// eventFrame is the cross-node envelope published to redis/NATS so
// sibling nodes can deliver to their own sockets. An empty RoomID on a
// broadcast frame addresses every registered socket.
type eventFrame struct {
	Source      string          `json:"source"`
	Kind        string          `json:"kind,omitempty"`
	RoomID      string          `json:"room_id,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
	ExcludeUser string          `json:"exclude_user,omitempty"`
	Event       string          `json:"event,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	SentAt      time.Time       `json:"sent_at"`
}

// NewGateway constructs the connection gateway. Redis and NATS are
// optional; with neither, fan-out stays node-local.
func NewGateway(rooms RoomService, messages MessageService, reactions ReactionService, presence PresenceService, redisClient *redis.Client, natsConn *nats.Conn, cfg GatewayConfig, validate *validator.Validate, logger zerolog.Logger) Gateway {
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	pingEvery := cfg.PingInterval
	if pingEvery <= 0 {
		pingEvery = defaultPingInterval
	}

	subject := ""
	if cfg.EventsChannel != "" {
		subject = strings.ReplaceAll(cfg.EventsChannel, ":", ".")
	}

	return &gateway{
		rooms:     rooms,
		messages:  messages,
		reactions: reactions,
		presence:  presence,
		hub:       newHub(logger),
		redis:     redisClient,
		nats:      natsConn,
		channel:   cfg.EventsChannel,
		subject:   subject,
		validator: validate,
		logger:    logger.With().Str("component", "gateway").Logger(),
		nodeID:    uuid.NewString(),
		buffer:    buffer,
		pingEvery: pingEvery,
	}
}

// Start launches the cross-node consumers.
func (g *gateway) Start(ctx context.Context) {
	if g.redis != nil && g.channel != "" {
		go g.consumeRedis(ctx)
	}
	if g.nats != nil && g.subject != "" {
		go g.consumeNATS(ctx)
	}
}

// ServeConnection runs the connection lifecycle: register the session,
// subscribe the socket to the user's rooms, flip presence, pump events
// until the socket closes, then unwind.
func (g *gateway) ServeConnection(conn Conn, opts ConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	c := &client{
		conn:     conn,
		send:     make(chan interface{}, g.buffer),
		userID:   opts.UserID,
		socketID: opts.SocketID,
		closed:   make(chan struct{}),
	}

	first := g.hub.addSession(c) == 1
	observability.GatewayConnections().Inc()

	rooms, err := g.rooms.ListRooms(baseCtx, opts.UserID)
	if err != nil {
		g.logger.Error().Err(err).Str("user_id", opts.UserID).Msg("failed to load room membership")
	}
	for _, room := range rooms {
		g.hub.subscribe(c, room.ID)
	}

	if event, err := g.presence.Update(baseCtx, opts.UserID, models.PresenceOnline, opts.SocketID); err != nil {
		g.logger.Warn().Err(err).Str("user_id", opts.UserID).Msg("failed to update presence")
	} else if first {
		g.broadcastAll(dto.EventUserOnline, event)
	}

	go g.writer(c)
	g.reader(baseCtx, c)

	remaining := g.hub.removeSession(c)
	observability.GatewayConnections().Dec()

	// Presence flips offline only when the user's last session closes;
	// closing one of several devices leaves the user online.
	if remaining == 0 {
		if event, err := g.presence.Update(baseCtx, opts.UserID, models.PresenceOffline, ""); err != nil {
			g.logger.Warn().Err(err).Str("user_id", opts.UserID).Msg("failed to update presence")
		} else {
			g.broadcastAll(dto.EventUserOffline, event)
		}
	}
}

func (g *gateway) reader(ctx context.Context, c *client) {
	defer c.shutdown()

	for {
		var envelope dto.EventEnvelope
		if err := c.conn.ReadJSON(&envelope); err != nil {
			g.logger.Debug().Err(err).Str("user_id", c.userID).Msg("gateway read loop ended")
			return
		}

		g.dispatch(ctx, c, envelope)
	}
}

func (g *gateway) writer(c *client) {
	defer c.shutdown()

	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				g.logger.Debug().Err(err).Str("user_id", c.userID).Msg("gateway write loop terminated")
				return
			}
		case <-time.After(g.pingEvery):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				g.logger.Debug().Err(err).Str("user_id", c.userID).Msg("gateway ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

// dispatch routes one inbound envelope to its engine. Failures are
// returned to the caller as an acknowledgement and never tear down the
// connection or touch sibling sessions.
func (g *gateway) dispatch(ctx context.Context, c *client, envelope dto.EventEnvelope) {
	var (
		payload interface{}
		err     error
	)

	switch envelope.Event {
	case dto.EventMessageSend:
		var req dto.MessageSendRequest
		if err = g.bind(envelope.Data, &req); err == nil {
			payload, err = g.SendMessage(ctx, c.userID, req)
		}
	case dto.EventRoomCreate:
		var req dto.RoomCreateRequest
		if err = g.bind(envelope.Data, &req); err == nil {
			payload, err = g.CreateRoom(ctx, c.userID, req)
		}
	case dto.EventRoomJoin:
		var req dto.RoomJoinRequest
		if err = g.bind(envelope.Data, &req); err == nil {
			payload, err = g.JoinChannel(ctx, c.userID, req.RoomID)
		}
	case dto.EventMessageRead:
		var req dto.MarkReadRequest
		if err = g.bind(envelope.Data, &req); err == nil {
			err = g.MarkRead(ctx, c.userID, req.RoomID)
		}
	case dto.EventMessagePin:
		var req dto.MessageRefRequest
		if err = g.bind(envelope.Data, &req); err == nil {
			payload, err = g.PinMessage(ctx, c.userID, req.MessageID)
		}
	case dto.EventMessageUnpin:
		var req dto.MessageRefRequest
		if err = g.bind(envelope.Data, &req); err == nil {
			payload, err = g.UnpinMessage(ctx, c.userID, req.MessageID)
		}
	case dto.EventMessageReact:
		var req dto.ReactionRequest
		if err = g.bind(envelope.Data, &req); err == nil {
			payload, err = g.AddReaction(ctx, c.userID, req)
		}
	case dto.EventMessageUnreact:
		var req dto.ReactionRequest
		if err = g.bind(envelope.Data, &req); err == nil {
			payload, err = g.RemoveReaction(ctx, c.userID, req)
		}
	case dto.EventTypingStart, dto.EventTypingStop:
		var req dto.TypingRequest
		if err = g.bind(envelope.Data, &req); err == nil {
			g.SetTyping(c.userID, req.RoomID, envelope.Event == dto.EventTypingStart)
		}
	case dto.EventCallInitiate:
		var req dto.CallInitiateRequest
		if err = g.bind(envelope.Data, &req); err == nil {
			payload = g.InitiateCall(c.userID, req)
		}
	case dto.EventCallResponse:
		var req dto.CallResponseRequest
		if err = g.bind(envelope.Data, &req); err == nil {
			payload = g.RespondToCall(c.userID, req)
		}
	case dto.EventCallEnd:
		var req dto.CallEndRequest
		if err = g.bind(envelope.Data, &req); err == nil {
			payload = g.EndCall(c.userID, req)
		}
	default:
		err = apperrors.InvalidArgument("unknown event")
	}

	status := "ok"
	if err != nil {
		status = "error"
		g.logger.Warn().Err(err).Str("event", envelope.Event).Str("user_id", c.userID).Msg("event handling failed")
	}
	observability.GatewayEvents().WithLabelValues(envelope.Event, status).Inc()

	ack := dto.Ack{
		Event:   dto.EventAck,
		Ref:     envelope.Ref,
		For:     envelope.Event,
		Success: err == nil,
		Data:    payload,
	}
	if err != nil {
		ack.Error = apperrors.ClientMessage(err)
	}

	if !c.enqueue(ack) {
		g.logger.Warn().Str("user_id", c.userID).Msg("sender queue full, dropping ack")
	}
}

func (g *gateway) bind(data json.RawMessage, v interface{}) error {
	if len(data) > 0 {
		if err := json.Unmarshal(data, v); err != nil {
			return apperrors.InvalidArgument("malformed event payload")
		}
	}
	if err := g.validator.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return apperrors.InvalidArgument("malformed event payload")
		}
		return apperrors.InvalidArgument(err.Error())
	}
	return nil
}

func (g *gateway) CreateRoom(ctx context.Context, userID string, req dto.RoomCreateRequest) (dto.RoomResponse, error) {
	room, created, err := g.rooms.CreateRoom(ctx, userID, req)
	if err != nil {
		return dto.RoomResponse{}, err
	}

	// A DIRECT request that resolved to an existing room changed
	// nothing: its members are already subscribed and announcing it
	// again would be noise.
	if created {
		for _, participant := range room.Participants {
			g.syncSubscribe(room.ID, participant.UserID)
		}
		g.broadcastRoom(room.ID, dto.EventRoomCreated, room, "")
	}

	return room, nil
}

func (g *gateway) JoinChannel(ctx context.Context, userID, roomID string) (dto.RoomResponse, error) {
	room, err := g.rooms.JoinChannel(ctx, roomID, userID)
	if err != nil {
		return dto.RoomResponse{}, err
	}

	g.syncSubscribe(roomID, userID)

	return room, nil
}

func (g *gateway) AddMembers(ctx context.Context, requesterID, roomID string, userIDs []string) ([]dto.ParticipantResponse, error) {
	added, err := g.rooms.AddMembers(ctx, roomID, userIDs, requesterID)
	if err != nil {
		return nil, err
	}

	for _, participant := range added {
		g.syncSubscribe(roomID, participant.UserID)
	}

	return added, nil
}

func (g *gateway) RemoveMember(ctx context.Context, requesterID, roomID, userID string) error {
	if err := g.rooms.RemoveMember(ctx, roomID, userID, requesterID); err != nil {
		return err
	}

	g.syncUnsubscribe(roomID, userID)

	return nil
}

func (g *gateway) DeleteRoom(ctx context.Context, requesterID, roomID string) error {
	if err := g.rooms.DeleteRoom(ctx, roomID, requesterID); err != nil {
		return err
	}

	g.syncDropRoom(roomID)

	return nil
}

func (g *gateway) ListRooms(ctx context.Context, userID string) ([]dto.RoomResponse, error) {
	return g.rooms.ListRooms(ctx, userID)
}

// SendMessage persists first and broadcasts second, so a reconnecting
// client's history fetch is always consistent with what it saw live.
func (g *gateway) SendMessage(ctx context.Context, senderID string, req dto.MessageSendRequest) (dto.MessageResponse, error) {
	message, err := g.messages.Send(ctx, senderID, req)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	g.broadcastRoom(message.RoomID, dto.EventMessageNew, message, "")

	return message, nil
}

func (g *gateway) History(ctx context.Context, userID string, query dto.MessageHistoryQuery) ([]dto.MessageResponse, error) {
	return g.messages.History(ctx, userID, query)
}

func (g *gateway) DeleteMessage(ctx context.Context, userID, messageID string) (dto.MessageResponse, error) {
	message, err := g.messages.Delete(ctx, userID, messageID)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	g.broadcastRoom(message.RoomID, dto.EventMessageUpdated, message, "")

	return message, nil
}

func (g *gateway) MarkRead(ctx context.Context, userID, roomID string) error {
	return g.messages.MarkRead(ctx, roomID, userID)
}

func (g *gateway) AddReaction(ctx context.Context, userID string, req dto.ReactionRequest) (dto.MessageResponse, error) {
	message, err := g.reactions.AddReaction(ctx, userID, req)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	g.broadcastRoom(message.RoomID, dto.EventReactionAdded, message, "")

	return message, nil
}

func (g *gateway) RemoveReaction(ctx context.Context, userID string, req dto.ReactionRequest) (dto.MessageResponse, error) {
	message, err := g.reactions.RemoveReaction(ctx, userID, req)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	g.broadcastRoom(message.RoomID, dto.EventReactionRemoved, message, "")

	return message, nil
}

func (g *gateway) PinMessage(ctx context.Context, userID, messageID string) (dto.MessageResponse, error) {
	message, err := g.reactions.PinMessage(ctx, userID, messageID)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	g.broadcastRoom(message.RoomID, dto.EventMessageUpdated, message, "")

	return message, nil
}

func (g *gateway) UnpinMessage(ctx context.Context, userID, messageID string) (dto.MessageResponse, error) {
	message, err := g.reactions.UnpinMessage(ctx, userID, messageID)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	g.broadcastRoom(message.RoomID, dto.EventMessageUpdated, message, "")

	return message, nil
}

func (g *gateway) ListPinned(ctx context.Context, userID, roomID string) ([]dto.MessageResponse, error) {
	return g.reactions.ListPinned(ctx, roomID, userID)
}

// SetTyping relays the indicator to every other socket in the room.
// Nothing is persisted and nothing is retried; clients apply their own
// stop-typing timeout since stop events can be lost on abrupt
// disconnect.
func (g *gateway) SetTyping(userID, roomID string, typing bool) {
	g.broadcastRoom(roomID, dto.EventTypingUser, dto.TypingEvent{RoomID: roomID, UserID: userID, IsTyping: typing}, userID)
}

// InitiateCall relays an invitation to every other room socket. The
// call id is a client correlation token; the server stores no call
// state and enforces no call lifecycle.
func (g *gateway) InitiateCall(userID string, req dto.CallInitiateRequest) dto.CallInvitationEvent {
	callType := req.CallType
	if callType == "" {
		callType = "video"
	}

	event := dto.CallInvitationEvent{
		CallID:          uuid.NewString(),
		RoomID:          req.RoomID,
		RoomName:        req.RoomName,
		CallType:        callType,
		ExternalRoomRef: req.ExternalRoomRef,
		InitiatorID:     userID,
	}

	g.broadcastRoom(req.RoomID, dto.EventCallInvitation, event, userID)

	return event
}

// RespondToCall relays the status to the whole room, including the
// responder's own peers.
func (g *gateway) RespondToCall(userID string, req dto.CallResponseRequest) dto.CallStatusEvent {
	status := "declined"
	if req.Accept {
		status = "accepted"
	}

	event := dto.CallStatusEvent{
		CallID:      req.CallID,
		RoomID:      req.RoomID,
		ResponderID: userID,
		Accept:      req.Accept,
		Status:      status,
	}

	g.broadcastRoom(req.RoomID, dto.EventCallStatus, event, "")

	return event
}

func (g *gateway) EndCall(userID string, req dto.CallEndRequest) dto.CallEndedEvent {
	event := dto.CallEndedEvent{CallID: req.CallID, RoomID: req.RoomID, EndedBy: userID}

	g.broadcastRoom(req.RoomID, dto.EventCallEnded, event, "")

	return event
}

func (g *gateway) OnlineUsers(ctx context.Context) ([]dto.PresenceResponse, error) {
	return g.presence.OnlineUsers(ctx)
}

func (g *gateway) broadcastRoom(roomID, event string, payload interface{}, excludeUser string) {
	g.hub.broadcastRoom(roomID, dto.OutboundEvent{Event: event, Data: payload}, excludeUser)
	g.publish(roomID, excludeUser, event, payload)
}

func (g *gateway) broadcastAll(event string, payload interface{}) {
	g.hub.broadcastAll(dto.OutboundEvent{Event: event, Data: payload})
	g.publish("", "", event, payload)
}

func (g *gateway) publish(roomID, excludeUser, event string, payload interface{}) {
	if !g.publishEnabled() {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		g.logger.Warn().Err(err).Str("event", event).Msg("failed to marshal event payload")
		return
	}

	g.publishFrame(eventFrame{
		Kind:        frameBroadcast,
		RoomID:      roomID,
		ExcludeUser: excludeUser,
		Event:       event,
		Payload:     body,
	})
}

func (g *gateway) publishEnabled() bool {
	return (g.redis != nil && g.channel != "") || (g.nats != nil && g.subject != "")
}

func (g *gateway) publishFrame(frame eventFrame) {
	if !g.publishEnabled() {
		return
	}

	frame.Source = g.nodeID
	frame.SentAt = time.Now().UTC()

	data, err := json.Marshal(frame)
	if err != nil {
		g.logger.Warn().Err(err).Str("event", frame.Event).Msg("failed to marshal event frame")
		return
	}

	if g.redis != nil && g.channel != "" {
		if err := g.redis.Publish(context.Background(), g.channel, data).Err(); err != nil {
			g.logger.Warn().Err(err).Msg("failed to publish event to redis")
		}
	}

	if g.nats != nil && g.subject != "" {
		if err := g.nats.Publish(g.subject, data); err != nil {
			g.logger.Warn().Err(err).Msg("failed to publish event to nats")
		}
	}
}

// syncSubscribe attaches the user's live sockets to the room on this
// node and, via a control frame, on every sibling node. Membership and
// subscription state must move together cluster-wide, not just where
// the mutation happened to land.
func (g *gateway) syncSubscribe(roomID, userID string) {
	g.hub.subscribeUser(roomID, userID)
	g.publishFrame(eventFrame{Kind: frameSubscribe, RoomID: roomID, UserID: userID})
}

func (g *gateway) syncUnsubscribe(roomID, userID string) {
	g.hub.unsubscribeUser(roomID, userID)
	g.publishFrame(eventFrame{Kind: frameUnsubscribe, RoomID: roomID, UserID: userID})
}

func (g *gateway) syncDropRoom(roomID string) {
	g.hub.dropRoom(roomID)
	g.publishFrame(eventFrame{Kind: frameDropRoom, RoomID: roomID})
}

func (g *gateway) consumeRedis(ctx context.Context) {
	pubsub := g.redis.Subscribe(ctx, g.channel)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			g.logger.Error().Err(err).Msg("gateway redis subscription closed")
			return
		}
		g.handleFrame([]byte(msg.Payload))
	}
}

func (g *gateway) consumeNATS(ctx context.Context) {
	sub, err := g.nats.QueueSubscribe(g.subject, "talkbase-gateway", func(msg *nats.Msg) {
		g.handleFrame(msg.Data)
	})
	if err != nil {
		g.logger.Error().Err(err).Msg("failed to subscribe to nats events subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			g.logger.Warn().Err(err).Msg("failed to drain gateway nats subscription")
		}
	}()
}

// handleFrame re-broadcasts a sibling node's event to local sockets.
func (g *gateway) handleFrame(data []byte) {
	var frame eventFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		g.logger.Warn().Err(err).Msg("invalid event frame")
		return
	}

	if frame.Source == g.nodeID {
		return
	}

	switch frame.Kind {
	case frameSubscribe:
		g.hub.subscribeUser(frame.RoomID, frame.UserID)
		return
	case frameUnsubscribe:
		g.hub.unsubscribeUser(frame.RoomID, frame.UserID)
		return
	case frameDropRoom:
		g.hub.dropRoom(frame.RoomID)
		return
	}

	event := dto.OutboundEvent{Event: frame.Event, Data: json.RawMessage(frame.Payload)}
	if frame.RoomID == "" {
		g.hub.broadcastAll(event)
		return
	}
	g.hub.broadcastRoom(frame.RoomID, event, frame.ExcludeUser)
}
