package dto

import (
	"time"

	"github.com/talkbase/realtime-api/internal/models"
)

// MessageSendRequest is the payload to post a message into a room.
type MessageSendRequest struct {
	RoomID   string                 `json:"room_id" validate:"required,max=36"`
	Content  string                 `json:"content" validate:"required,max=4000"`
	Type     string                 `json:"type" validate:"omitempty,oneof=TEXT IMAGE FILE SYSTEM MEETING_LINK"`
	Metadata map[string]interface{} `json:"metadata"`
}

// MessageHistoryQuery filters a backward-paginated history fetch.
type MessageHistoryQuery struct {
	RoomID string     `json:"room_id" query:"room_id" validate:"required,max=36"`
	Before *time.Time `json:"before" query:"before"`
	Limit  int        `json:"limit" query:"limit" validate:"omitempty,min=1,max=100"`
}

// MessageRefRequest targets a single message by id.
type MessageRefRequest struct {
	MessageID string `json:"message_id" validate:"required,max=36"`
}

// ReactionRequest adds or removes an emoji reaction on a message.
type ReactionRequest struct {
	MessageID string `json:"message_id" validate:"required,max=36"`
	Emoji     string `json:"emoji" validate:"required,max=32"`
}

// MarkReadRequest advances the caller's read cursor in a room.
type MarkReadRequest struct {
	RoomID string `json:"room_id" validate:"required,max=36"`
}

// ReactionResponse is the serialized reaction row.
type ReactionResponse struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// MessageResponse is the serialized message with grouped reactions.
// Soft-deleted messages are projected as tombstones and never carry
// their original content or metadata.
type MessageResponse struct {
	ID        string                 `json:"id"`
	RoomID    string                 `json:"room_id"`
	SenderID  string                 `json:"sender_id"`
	Content   string                 `json:"content"`
	Type      string                 `json:"type"`
	Metadata  map[string]interface{} `json:"metadata"`
	IsPinned  bool                   `json:"is_pinned"`
	IsDeleted bool                   `json:"is_deleted"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Reactions []ReactionResponse     `json:"reactions"`
}

// NewMessageResponse converts a message model into a DTO, applying the
// tombstone scrub for soft-deleted rows at the projection boundary so
// every reader sees the same redacted payload.
func NewMessageResponse(message models.Message) MessageResponse {
	reactions := make([]ReactionResponse, 0, len(message.Reactions))
	for _, reaction := range message.Reactions {
		reactions = append(reactions, ReactionResponse{UserID: reaction.UserID, Emoji: reaction.Emoji})
	}

	response := MessageResponse{
		ID:        message.ID,
		RoomID:    message.RoomID,
		SenderID:  message.SenderID,
		Content:   message.Content,
		Type:      string(message.Type),
		Metadata:  message.Metadata,
		IsPinned:  message.IsPinned,
		CreatedAt: message.CreatedAt,
		UpdatedAt: message.UpdatedAt,
		Reactions: reactions,
	}

	if message.DeletedAt != nil {
		response.Content = models.TombstoneContent
		response.Type = string(models.MessageTypeSystem)
		response.Metadata = nil
		response.IsDeleted = true
	}

	return response
}

// NewMessageResponseSlice converts a slice of message models into DTOs.
func NewMessageResponseSlice(messages []models.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewMessageResponse(message))
	}
	return out
}
