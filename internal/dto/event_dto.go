package dto

import (
	"encoding/json"
	"time"
)

// Outbound event names fanned out to room subscribers.
const (
	EventMessageNew      = "message:new"
	EventMessageUpdated  = "message:updated"
	EventReactionAdded   = "message:reaction:added"
	EventReactionRemoved = "message:reaction:removed"
	EventRoomCreated     = "room:created"
	EventUserOnline      = "user:online"
	EventUserOffline     = "user:offline"
	EventTypingUser      = "typing:user"
	EventCallInvitation  = "call:invitation"
	EventCallStatus      = "call:status"
	EventCallEnded       = "call:ended"
	EventAck             = "ack"
)

// Inbound event names accepted over the socket transport.
const (
	EventMessageSend    = "message:send"
	EventMessageRead    = "message:read"
	EventMessagePin     = "message:pin"
	EventMessageUnpin   = "message:unpin"
	EventMessageReact   = "message:react"
	EventMessageUnreact = "message:unreact"
	EventRoomCreate     = "room:create"
	EventRoomJoin       = "room:join"
	EventTypingStart    = "typing:start"
	EventTypingStop     = "typing:stop"
	EventCallInitiate   = "call:initiate"
	EventCallResponse   = "call:response"
	EventCallEnd        = "call:end"
)

// EventEnvelope frames every inbound socket message. Ref is an
// optional client token echoed back on the acknowledgement.
type EventEnvelope struct {
	Event string          `json:"event"`
	Ref   string          `json:"ref,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundEvent frames every server-to-client push.
type OutboundEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Ack is returned to the caller for every inbound event, success or
// not, independent of any room broadcast.
type Ack struct {
	Event   string      `json:"event"`
	Ref     string      `json:"ref,omitempty"`
	For     string      `json:"for"`
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// TypingRequest starts or stops a typing indicator in a room.
type TypingRequest struct {
	RoomID string `json:"room_id" validate:"required,max=36"`
}

// TypingEvent is relayed to every other socket in the room.
type TypingEvent struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// PresenceEvent announces a user flipping online or offline.
type PresenceEvent struct {
	UserID   string    `json:"user_id"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// PresenceResponse is the serialized presence row.
type PresenceResponse struct {
	UserID   string    `json:"user_id"`
	Status   string    `json:"status"`
	SocketID string    `json:"socket_id,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// CallInitiateRequest starts a call invitation relay for a room.
type CallInitiateRequest struct {
	RoomID          string `json:"room_id" validate:"required,max=36"`
	RoomName        string `json:"room_name" validate:"omitempty,max=255"`
	CallType        string `json:"call_type" validate:"omitempty,oneof=video audio"`
	ExternalRoomRef string `json:"external_room_ref" validate:"omitempty,max=255"`
}

// CallInvitationEvent is relayed to every other socket in the room.
// CallID is a correlation token only; the server keeps no call state.
type CallInvitationEvent struct {
	CallID          string `json:"call_id"`
	RoomID          string `json:"room_id"`
	RoomName        string `json:"room_name,omitempty"`
	CallType        string `json:"call_type"`
	ExternalRoomRef string `json:"external_room_ref,omitempty"`
	InitiatorID     string `json:"initiator_id"`
}

// CallResponseRequest accepts or declines a pending invitation.
type CallResponseRequest struct {
	RoomID string `json:"room_id" validate:"required,max=36"`
	CallID string `json:"call_id" validate:"required,max=36"`
	Accept bool   `json:"accept"`
}

// CallStatusEvent is relayed to the whole room, including the
// responder's own peers.
type CallStatusEvent struct {
	CallID      string `json:"call_id"`
	RoomID      string `json:"room_id"`
	ResponderID string `json:"responder_id"`
	Accept      bool   `json:"accept"`
	Status      string `json:"status"`
}

// CallEndRequest terminates a call relay for a room.
type CallEndRequest struct {
	RoomID string `json:"room_id" validate:"required,max=36"`
	CallID string `json:"call_id" validate:"required,max=36"`
}

// CallEndedEvent is relayed to the whole room.
type CallEndedEvent struct {
	CallID  string `json:"call_id"`
	RoomID  string `json:"room_id"`
	EndedBy string `json:"ended_by"`
}
