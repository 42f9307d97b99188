package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/talkbase/realtime-api/internal/dto"
	"github.com/talkbase/realtime-api/internal/models"
)

type stubPresenceRepo struct {
	mu   sync.Mutex
	rows map[string]models.Presence
}

func newStubPresenceRepo() *stubPresenceRepo {
	return &stubPresenceRepo{rows: make(map[string]models.Presence)}
}

func (s *stubPresenceRepo) Upsert(_ context.Context, presence *models.Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[presence.UserID] = *presence
	return nil
}

func (s *stubPresenceRepo) Get(_ context.Context, userID string) (models.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	presence, ok := s.rows[userID]
	if !ok {
		return models.Presence{}, gorm.ErrRecordNotFound
	}
	return presence, nil
}

func (s *stubPresenceRepo) ListOnlineSince(_ context.Context, since time.Time) ([]models.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Presence
	for _, presence := range s.rows {
		if presence.Status == models.PresenceOnline && presence.LastSeen.After(since) {
			out = append(out, presence)
		}
	}
	return out, nil
}

func newGatewayForTest(t *testing.T, redisClient *redis.Client) (*gateway, *stubRoomRepo, *stubPresenceRepo) {
	t.Helper()
	validate := validator.New(validator.WithRequiredStructEnabled())
	messages := newStubMessageRepo()
	rooms := newStubRoomRepo()
	reactions := newStubReactionRepo()
	presence := newStubPresenceRepo()

	messageSvc := NewMessageService(messages, rooms, validate, zerolog.Nop())
	roomSvc := NewRoomService(rooms, messageSvc, validate, zerolog.Nop())
	reactionSvc := NewReactionService(reactions, messages, rooms, messageSvc, validate, zerolog.Nop())
	presenceSvc := NewPresenceService(presence, 5*time.Minute, zerolog.Nop())

	gw := NewGateway(roomSvc, messageSvc, reactionSvc, presenceSvc, redisClient, nil, GatewayConfig{
		EventsChannel: "talkbase:events:test",
	}, validate, zerolog.Nop()).(*gateway)

	return gw, rooms, presence
}

func seedRoom(t *testing.T, rooms *stubRoomRepo, id string, members ...string) {
	t.Helper()
	participants := make([]models.Participant, 0, len(members))
	for i, member := range members {
		role := models.RoleMember
		if i == 0 {
			role = models.RoleAdmin
		}
		participants = append(participants, models.Participant{UserID: member, Role: role})
	}
	room := models.Room{ID: id, Type: models.RoomTypeGroup}
	require.NoError(t, rooms.Create(context.Background(), &room, participants))
}

func attach(gw *gateway, c *client, roomIDs ...string) {
	gw.hub.addSession(c)
	for _, roomID := range roomIDs {
		gw.hub.subscribe(c, roomID)
	}
}

func TestDispatchSendMessageBroadcastsAndAcks(t *testing.T) {
	gw, rooms, _ := newGatewayForTest(t, nil)
	seedRoom(t, rooms, "room-1", "u1", "u2")

	sender := newTestClient("u1", 8)
	peer := newTestClient("u2", 8)
	attach(gw, sender, "room-1")
	attach(gw, peer, "room-1")

	gw.dispatch(context.Background(), sender, dto.EventEnvelope{
		Event: dto.EventMessageSend,
		Ref:   "r1",
		Data:  json.RawMessage(`{"room_id":"room-1","content":"hello"}`),
	})

	peerEvents := drain(peer)
	require.Len(t, peerEvents, 1)
	broadcast, ok := peerEvents[0].(dto.OutboundEvent)
	require.True(t, ok)
	require.Equal(t, dto.EventMessageNew, broadcast.Event)

	senderEvents := drain(sender)
	require.Len(t, senderEvents, 2, "the sender's socket receives the broadcast and the ack")
	ack, ok := senderEvents[1].(dto.Ack)
	require.True(t, ok)
	require.True(t, ack.Success)
	require.Equal(t, "r1", ack.Ref)
	require.Equal(t, dto.EventMessageSend, ack.For)
}

func TestDispatchUnknownEventAcksFailure(t *testing.T) {
	gw, _, _ := newGatewayForTest(t, nil)
	sender := newTestClient("u1", 8)
	attach(gw, sender)

	gw.dispatch(context.Background(), sender, dto.EventEnvelope{Event: "bogus", Ref: "r9"})

	events := drain(sender)
	require.Len(t, events, 1)
	ack := events[0].(dto.Ack)
	require.False(t, ack.Success)
	require.Equal(t, "r9", ack.Ref)
	require.Equal(t, "unknown event", ack.Error)
}

func TestDispatchInvalidPayloadAcksFailure(t *testing.T) {
	gw, rooms, _ := newGatewayForTest(t, nil)
	seedRoom(t, rooms, "room-1", "u1")
	sender := newTestClient("u1", 8)
	attach(gw, sender, "room-1")

	gw.dispatch(context.Background(), sender, dto.EventEnvelope{
		Event: dto.EventMessageSend,
		Data:  json.RawMessage(`{"room_id":"room-1"}`),
	})

	events := drain(sender)
	require.Len(t, events, 1, "a failed operation broadcasts nothing")
	ack := events[0].(dto.Ack)
	require.False(t, ack.Success)
	require.NotEmpty(t, ack.Error)
}

func TestTypingRelayExcludesSender(t *testing.T) {
	gw, rooms, _ := newGatewayForTest(t, nil)
	seedRoom(t, rooms, "room-1", "u1", "u2")

	sender := newTestClient("u1", 8)
	peer := newTestClient("u2", 8)
	attach(gw, sender, "room-1")
	attach(gw, peer, "room-1")

	gw.dispatch(context.Background(), sender, dto.EventEnvelope{
		Event: dto.EventTypingStart,
		Data:  json.RawMessage(`{"room_id":"room-1"}`),
	})

	peerEvents := drain(peer)
	require.Len(t, peerEvents, 1)
	relay := peerEvents[0].(dto.OutboundEvent)
	require.Equal(t, dto.EventTypingUser, relay.Event)
	typing := relay.Data.(dto.TypingEvent)
	require.Equal(t, "u1", typing.UserID)
	require.True(t, typing.IsTyping)

	senderEvents := drain(sender)
	require.Len(t, senderEvents, 1, "the typist only gets the ack back")
	_, isAck := senderEvents[0].(dto.Ack)
	require.True(t, isAck)
}

func TestCallSignalingRelay(t *testing.T) {
	gw, rooms, _ := newGatewayForTest(t, nil)
	seedRoom(t, rooms, "room-1", "u1", "u2")

	caller := newTestClient("u1", 8)
	callee := newTestClient("u2", 8)
	attach(gw, caller, "room-1")
	attach(gw, callee, "room-1")

	gw.dispatch(context.Background(), caller, dto.EventEnvelope{
		Event: dto.EventCallInitiate,
		Data:  json.RawMessage(`{"room_id":"room-1","call_type":"audio"}`),
	})

	calleeEvents := drain(callee)
	require.Len(t, calleeEvents, 1)
	invitation := calleeEvents[0].(dto.OutboundEvent).Data.(dto.CallInvitationEvent)
	require.Equal(t, "u1", invitation.InitiatorID)
	require.Equal(t, "audio", invitation.CallType)
	require.NotEmpty(t, invitation.CallID)

	require.Len(t, drain(caller), 1, "the initiator does not receive their own invitation")

	gw.dispatch(context.Background(), callee, dto.EventEnvelope{
		Event: dto.EventCallResponse,
		Data:  json.RawMessage(`{"room_id":"room-1","call_id":"` + invitation.CallID + `","accept":true}`),
	})

	callerEvents := drain(caller)
	require.Len(t, callerEvents, 1)
	status := callerEvents[0].(dto.OutboundEvent).Data.(dto.CallStatusEvent)
	require.Equal(t, "accepted", status.Status)
	require.Equal(t, "u2", status.ResponderID)
}

func TestCreateRoomSubscribesLiveParticipants(t *testing.T) {
	gw, _, _ := newGatewayForTest(t, nil)

	creator := newTestClient("u1", 8)
	invitee := newTestClient("u2", 8)
	attach(gw, creator)
	attach(gw, invitee)

	room, err := gw.CreateRoom(context.Background(), "u1", dto.RoomCreateRequest{Type: "GROUP", ParticipantIDs: []string{"u2"}})
	require.NoError(t, err)

	inviteeEvents := drain(invitee)
	require.Len(t, inviteeEvents, 1, "live sockets of new participants join the room immediately")
	require.Equal(t, dto.EventRoomCreated, inviteeEvents[0].(dto.OutboundEvent).Event)

	_, err = gw.SendMessage(context.Background(), "u1", dto.MessageSendRequest{RoomID: room.ID, Content: "welcome"})
	require.NoError(t, err)
	require.Len(t, drain(invitee), 1)
}

func TestRemovedMemberStopsReceiving(t *testing.T) {
	gw, rooms, _ := newGatewayForTest(t, nil)
	seedRoom(t, rooms, "room-1", "u1", "u2")

	peer := newTestClient("u2", 8)
	attach(gw, peer, "room-1")

	require.NoError(t, gw.RemoveMember(context.Background(), "u1", "room-1", "u2"))

	_, err := gw.SendMessage(context.Background(), "u1", dto.MessageSendRequest{RoomID: "room-1", Content: "without you"})
	require.NoError(t, err)
	require.Empty(t, drain(peer))
}

func TestServeConnectionPresenceLifecycle(t *testing.T) {
	gw, rooms, presence := newGatewayForTest(t, nil)
	seedRoom(t, rooms, "room-1", "u1")

	phone := newFakeConn()
	laptop := newFakeConn()

	done := make(chan struct{}, 2)
	serve := func(conn *fakeConn, socketID string) {
		gw.ServeConnection(conn, ConnectionOptions{UserID: "u1", SocketID: socketID})
		done <- struct{}{}
	}
	go serve(phone, "s1")
	go serve(laptop, "s2")

	require.Eventually(t, func() bool {
		row, err := presence.Get(context.Background(), "u1")
		return err == nil && row.Status == models.PresenceOnline
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, phone.Close())
	<-done

	row, err := presence.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, models.PresenceOnline, row.Status, "closing one of several devices keeps the user online")

	require.NoError(t, laptop.Close())
	<-done

	require.Eventually(t, func() bool {
		row, err := presence.Get(context.Background(), "u1")
		return err == nil && row.Status == models.PresenceOffline
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRepeatDirectCreateDoesNotRebroadcast(t *testing.T) {
	gw, _, _ := newGatewayForTest(t, nil)

	creator := newTestClient("u1", 8)
	peer := newTestClient("u2", 8)
	attach(gw, creator)
	attach(gw, peer)

	first, err := gw.CreateRoom(context.Background(), "u1", dto.RoomCreateRequest{Type: "DIRECT", ParticipantIDs: []string{"u2"}})
	require.NoError(t, err)
	require.Len(t, drain(peer), 1, "the first creation is announced")

	second, err := gw.CreateRoom(context.Background(), "u2", dto.RoomCreateRequest{Type: "DIRECT", ParticipantIDs: []string{"u1"}})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	require.Empty(t, drain(peer), "resolving to the existing room announces nothing")
	drain(creator)
	require.Empty(t, drain(creator))
}

func TestCrossNodeFanoutOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	nodeA, _, _ := newGatewayForTest(t, redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	nodeB, _, _ := newGatewayForTest(t, redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	nodeB.Start(ctx)

	peer := newTestClient("u2", 16)
	attach(nodeB, peer, "room-1")

	// Publish until the consumer's subscription is live.
	require.Eventually(t, func() bool {
		nodeA.broadcastRoom("room-1", dto.EventMessageNew, dto.MessageResponse{ID: "m1", RoomID: "room-1"}, "")
		return len(drain(peer)) > 0
	}, 3*time.Second, 50*time.Millisecond)
}

// hasEventWithPayload reports whether any relayed event carries the
// marker in its raw payload.
func hasEventWithPayload(events []interface{}, marker string) bool {
	for _, event := range events {
		outbound, ok := event.(dto.OutboundEvent)
		if !ok {
			continue
		}
		if raw, ok := outbound.Data.(json.RawMessage); ok && strings.Contains(string(raw), marker) {
			return true
		}
	}
	return false
}

func TestCrossNodeRemovalStopsDelivery(t *testing.T) {
	mr := miniredis.RunT(t)

	nodeA, roomsA, _ := newGatewayForTest(t, redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	nodeB, _, _ := newGatewayForTest(t, redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	seedRoom(t, roomsA, "room-1", "u1", "u2")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	nodeB.Start(ctx)

	// u2's socket lives on the node that did NOT process the removal;
	// u3 stays a member throughout and proves delivery kept flowing.
	peer := newTestClient("u2", 16)
	witness := newTestClient("u3", 16)
	attach(nodeB, peer, "room-1")
	attach(nodeB, witness, "room-1")

	require.Eventually(t, func() bool {
		nodeA.broadcastRoom("room-1", dto.EventMessageNew, dto.MessageResponse{ID: "warmup", RoomID: "room-1"}, "")
		return len(drain(witness)) > 0
	}, 3*time.Second, 50*time.Millisecond)
	drain(peer)

	require.NoError(t, nodeA.RemoveMember(ctx, "u1", "room-1", "u2"))
	nodeA.broadcastRoom("room-1", dto.EventMessageNew, dto.MessageResponse{ID: "after-removal", RoomID: "room-1"}, "")

	// Frames on the channel are ordered: once the witness sees the
	// post-removal message, the sibling node has already applied the
	// unsubscription.
	var witnessed []interface{}
	require.Eventually(t, func() bool {
		witnessed = append(witnessed, drain(witness)...)
		return hasEventWithPayload(witnessed, "after-removal")
	}, 3*time.Second, 50*time.Millisecond)

	require.False(t, hasEventWithPayload(drain(peer), "after-removal"), "a removed member's remote socket receives nothing further")
}

func TestCrossNodeAddMemberStartsDelivery(t *testing.T) {
	mr := miniredis.RunT(t)

	nodeA, roomsA, _ := newGatewayForTest(t, redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	nodeB, _, _ := newGatewayForTest(t, redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	seedRoom(t, roomsA, "room-1", "u1", "u2")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	nodeB.Start(ctx)

	witness := newTestClient("u2", 16)
	joiner := newTestClient("u3", 16)
	attach(nodeB, witness, "room-1")
	attach(nodeB, joiner)

	require.Eventually(t, func() bool {
		nodeA.broadcastRoom("room-1", dto.EventMessageNew, dto.MessageResponse{ID: "warmup", RoomID: "room-1"}, "")
		return len(drain(witness)) > 0
	}, 3*time.Second, 50*time.Millisecond)

	added, err := nodeA.AddMembers(ctx, "u1", "room-1", []string{"u3"})
	require.NoError(t, err)
	require.Len(t, added, 1)

	nodeA.broadcastRoom("room-1", dto.EventMessageNew, dto.MessageResponse{ID: "after-add", RoomID: "room-1"}, "")

	var received []interface{}
	require.Eventually(t, func() bool {
		received = append(received, drain(joiner)...)
		return hasEventWithPayload(received, "after-add")
	}, 3*time.Second, 50*time.Millisecond, "a new member's remote socket starts receiving room traffic")
}
