package models

import "time"

// PresenceStatus enumerates live connectivity states.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// Presence records the last known connectivity state of a user, one
// row per user, last writer wins.
type Presence struct {
	UserID   string         `gorm:"primaryKey;size:64" json:"user_id"`
	Status   PresenceStatus `gorm:"size:16;not null;default:offline" json:"status"`
	SocketID string         `gorm:"size:64" json:"socket_id,omitempty"`
	LastSeen time.Time      `json:"last_seen"`
}
