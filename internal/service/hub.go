package service

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/talkbase/realtime-api/internal/dto"
	"github.com/talkbase/realtime-api/internal/observability"
)

// Conn is the subset of the websocket connection the gateway uses;
// *websocket.Conn satisfies it and tests substitute fakes.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// client is one live socket bound to an authenticated user. Events are
// queued on a buffered channel; a full queue drops the event rather
// than blocking fan-out to siblings.
type client struct {
	conn     Conn
	send     chan interface{}
	userID   string
	socketID string
	closed   chan struct{}
	once     sync.Once
}

func (c *client) enqueue(event interface{}) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- event:
		return true
	default:
		observability.FanoutDrops().Inc()
		return false
	}
}

func (c *client) shutdown() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// hub tracks live sessions per user and socket subscriptions per room.
// The two registries are mutated together under one lock so concurrent
// connect/disconnect of the same user cannot lose updates.
type hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*client]struct{}
	byClient map[*client]map[string]struct{}
	sessions map[string]map[*client]struct{}
	log      zerolog.Logger
}

func newHub(logger zerolog.Logger) *hub {
	return &hub{
		rooms:    make(map[string]map[*client]struct{}),
		byClient: make(map[*client]map[string]struct{}),
		sessions: make(map[string]map[*client]struct{}),
		log:      logger.With().Str("component", "gateway_hub").Logger(),
	}
}

// addSession registers the client and returns how many live sessions
// the user now has.
func (h *hub) addSession(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[c.userID]; !ok {
		h.sessions[c.userID] = make(map[*client]struct{})
	}
	h.sessions[c.userID][c] = struct{}{}
	h.byClient[c] = make(map[string]struct{})

	h.log.Debug().Str("user_id", c.userID).Str("socket_id", c.socketID).Msg("session registered")

	return len(h.sessions[c.userID])
}

// removeSession deregisters the client from every room and returns how
// many live sessions the user still has.
func (h *hub) removeSession(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	for roomID := range h.byClient[c] {
		h.detachLocked(c, roomID)
	}
	delete(h.byClient, c)

	if clients, ok := h.sessions[c.userID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.sessions, c.userID)
		}
	}

	h.log.Debug().Str("user_id", c.userID).Str("socket_id", c.socketID).Msg("session deregistered")

	return len(h.sessions[c.userID])
}

func (h *hub) subscribe(c *client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attachLocked(c, roomID)
}

// subscribeUser attaches every live socket of the user to the room.
func (h *hub) subscribeUser(roomID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.sessions[userID] {
		h.attachLocked(c, roomID)
	}
}

// unsubscribeUser detaches every live socket of the user from the
// room; from this moment the sockets stop receiving room events.
func (h *hub) unsubscribeUser(roomID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.sessions[userID] {
		h.detachLocked(c, roomID)
	}
}

// dropRoom detaches every socket from a deleted room.
func (h *hub) dropRoom(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[roomID] {
		delete(h.byClient[c], roomID)
	}
	delete(h.rooms, roomID)
}

func (h *hub) attachLocked(c *client, roomID string) {
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*client]struct{})
	}
	h.rooms[roomID][c] = struct{}{}
	if h.byClient[c] == nil {
		h.byClient[c] = make(map[string]struct{})
	}
	h.byClient[c][roomID] = struct{}{}
}

func (h *hub) detachLocked(c *client, roomID string) {
	if clients, ok := h.rooms[roomID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if roomSet, ok := h.byClient[c]; ok {
		delete(roomSet, roomID)
	}
}

// broadcastRoom fans an event out to every socket subscribed to the
// room, optionally excluding all sockets of one user. A failed or slow
// socket never blocks delivery to siblings.
func (h *hub) broadcastRoom(roomID string, event dto.OutboundEvent, excludeUser string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[roomID] {
		if excludeUser != "" && c.userID == excludeUser {
			continue
		}
		if !c.enqueue(event) {
			h.log.Warn().Str("room_id", roomID).Str("user_id", c.userID).Str("event", event.Event).Msg("dropping event for slow client")
		}
	}
}

// broadcastAll fans an event out to every registered socket.
func (h *hub) broadcastAll(event dto.OutboundEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.byClient {
		if !c.enqueue(event) {
			h.log.Warn().Str("user_id", c.userID).Str("event", event.Event).Msg("dropping event for slow client")
		}
	}
}
