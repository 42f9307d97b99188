package dto

import (
	"time"

	"github.com/talkbase/realtime-api/internal/models"
)

// RoomCreateRequest is the payload to create a room of any type.
type RoomCreateRequest struct {
	Type           string   `json:"type" validate:"required,oneof=DIRECT GROUP CHANNEL"`
	ParticipantIDs []string `json:"participant_ids" validate:"omitempty,dive,max=64"`
	Name           string   `json:"name" validate:"omitempty,max=255"`
	IsPublic       bool     `json:"is_public"`
	Description    string   `json:"description" validate:"omitempty,max=2000"`
}

// RoomJoinRequest joins a public channel over the socket transport.
type RoomJoinRequest struct {
	RoomID string `json:"room_id" validate:"required,max=36"`
}

// RoomAddMembersRequest adds users to a GROUP or CHANNEL room.
type RoomAddMembersRequest struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1,dive,max=64"`
}

// ParticipantResponse is the serialized membership record.
type ParticipantResponse struct {
	UserID     string    `json:"user_id"`
	Role       string    `json:"role"`
	LastReadAt time.Time `json:"last_read_at"`
	JoinedAt   time.Time `json:"joined_at"`
}

// RoomResponse is the serialized room enriched with participants and,
// for listings, the latest message plus the caller's unread count.
type RoomResponse struct {
	ID           string                `json:"id"`
	Type         string                `json:"type"`
	Name         string                `json:"name,omitempty"`
	IsPublic     bool                  `json:"is_public"`
	Description  string                `json:"description,omitempty"`
	CreatedBy    string                `json:"created_by"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
	Participants []ParticipantResponse `json:"participants"`
	LastMessage  *MessageResponse      `json:"last_message,omitempty"`
	UnreadCount  int64                 `json:"unread_count"`
}

// NewParticipantResponse converts a membership model into a DTO.
func NewParticipantResponse(participant models.Participant) ParticipantResponse {
	return ParticipantResponse{
		UserID:     participant.UserID,
		Role:       string(participant.Role),
		LastReadAt: participant.LastReadAt,
		JoinedAt:   participant.CreatedAt,
	}
}

// NewRoomResponse converts a room model into a DTO including preloaded
// participants.
func NewRoomResponse(room models.Room) RoomResponse {
	participants := make([]ParticipantResponse, 0, len(room.Participants))
	for _, participant := range room.Participants {
		participants = append(participants, NewParticipantResponse(participant))
	}

	return RoomResponse{
		ID:           room.ID,
		Type:         string(room.Type),
		Name:         room.Name,
		IsPublic:     room.IsPublic,
		Description:  room.Description,
		CreatedBy:    room.CreatedBy,
		CreatedAt:    room.CreatedAt,
		UpdatedAt:    room.UpdatedAt,
		Participants: participants,
	}
}

// NewRoomResponseSlice converts a slice of room models into DTOs.
func NewRoomResponseSlice(rooms []models.Room) []RoomResponse {
	out := make([]RoomResponse, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, NewRoomResponse(room))
	}
	return out
}
