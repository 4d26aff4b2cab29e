package live

import (
	"time"
)

const (
	MessageTypeLocationUpdate = "location_update"
	MessageTypeSharingRevoked = "sharing_revoked"
	MessageTypePing           = "ping"
	MessageTypePong           = "pong"
)

// Message is pushed to a viewer's map. Latitude/Longitude are only set on
// location updates, which are only addressed to viewers the owner shares with.
type Message struct {
	Type      string     `json:"type"`
	UserID    string     `json:"user_id,omitempty"`
	Latitude  *float64   `json:"latitude,omitempty"`
	Longitude *float64   `json:"longitude,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

type IncomingMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// envelope is what travels over Redis pub/sub between instances.
type envelope struct {
	ViewerID string   `json:"viewer_id"`
	Message  *Message `json:"message"`
}

func NewLocationMessage(ownerID string, lat, lon float64, updatedAt time.Time) *Message {
	return &Message{
		Type:      MessageTypeLocationUpdate,
		UserID:    ownerID,
		Latitude:  &lat,
		Longitude: &lon,
		UpdatedAt: &updatedAt,
		Timestamp: time.Now().Unix(),
	}
}

func NewRevokedMessage(ownerID string) *Message {
	return &Message{
		Type:      MessageTypeSharingRevoked,
		UserID:    ownerID,
		Timestamp: time.Now().Unix(),
	}
}
