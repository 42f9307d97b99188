package models

import (
	"time"

	"gorm.io/datatypes"
)

// MessageType enumerates supported chat message payload kinds.
type MessageType string

const (
	MessageTypeText        MessageType = "TEXT"
	MessageTypeImage       MessageType = "IMAGE"
	MessageTypeFile        MessageType = "FILE"
	MessageTypeSystem      MessageType = "SYSTEM"
	MessageTypeMeetingLink MessageType = "MEETING_LINK"
)

// TombstoneContent replaces the body of a soft-deleted message for
// every reader, live or historical.
const TombstoneContent = "Tin nhắn đã bị thu hồi"

// Message is a chat message persisted inside a room. DeletedAt is a
// plain timestamp rather than gorm.DeletedAt: deleted rows stay
// visible in history and are scrubbed at projection time instead of
// being filtered out.
type Message struct {
	ID        string            `gorm:"primaryKey;size:36" json:"id"`
	RoomID    string            `gorm:"size:36;not null;index" json:"room_id"`
	SenderID  string            `gorm:"size:64;not null;index" json:"sender_id"`
	Content   string            `gorm:"type:text" json:"content"`
	Type      MessageType       `gorm:"size:32;not null;default:TEXT" json:"type"`
	Metadata  datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	IsPinned  bool              `gorm:"not null;default:false" json:"is_pinned"`
	CreatedAt time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	DeletedAt *time.Time        `json:"deleted_at,omitempty"`
	Reactions []Reaction        `gorm:"foreignKey:MessageID" json:"reactions"`
}

// Reaction is an emoji reaction on a message, unique per
// (message, user, emoji).
type Reaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID string    `gorm:"size:36;not null;uniqueIndex:idx_reaction_message_user_emoji" json:"message_id"`
	UserID    string    `gorm:"size:64;not null;uniqueIndex:idx_reaction_message_user_emoji" json:"user_id"`
	Emoji     string    `gorm:"size:32;not null;uniqueIndex:idx_reaction_message_user_emoji" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}
