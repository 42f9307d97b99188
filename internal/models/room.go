package models

import (
	"sort"
	"strings"
	"time"
)

// RoomType enumerates the supported conversation scopes.
type RoomType string

const (
	RoomTypeDirect  RoomType = "DIRECT"
	RoomTypeGroup   RoomType = "GROUP"
	RoomTypeChannel RoomType = "CHANNEL"
)

// ParticipantRole enumerates membership roles within a room.
type ParticipantRole string

const (
	RoleAdmin  ParticipantRole = "ADMIN"
	RoleMember ParticipantRole = "MEMBER"
)

// Room is a conversation scope shared by its participants.
type Room struct {
	ID           string        `gorm:"primaryKey;size:36" json:"id"`
	Type         RoomType      `gorm:"size:16;not null;index" json:"type"`
	Name         string        `gorm:"size:255" json:"name"`
	IsPublic     bool          `gorm:"not null;default:false" json:"is_public"`
	Description  string        `gorm:"type:text" json:"description"`
	CreatedBy    string        `gorm:"size:64;index" json:"created_by"`
	PairKey      string        `gorm:"size:130;index" json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Participants []Participant `gorm:"foreignKey:RoomID" json:"participants"`
}

// Participant links a user to a room with a role and read cursor.
type Participant struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	RoomID     string          `gorm:"size:36;not null;uniqueIndex:idx_participant_room_user" json:"room_id"`
	UserID     string          `gorm:"size:64;not null;index;uniqueIndex:idx_participant_room_user" json:"user_id"`
	Role       ParticipantRole `gorm:"size:16;not null;default:MEMBER" json:"role"`
	LastReadAt time.Time       `json:"last_read_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DirectPairKey produces the unordered pair key used to deduplicate
// DIRECT rooms for the same two users.
func DirectPairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}
