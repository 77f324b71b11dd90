package websocket

import (
	"time"

	"atypik-backend/internal/models"
)

// Filter selects which mission updates a subscription receives. Empty fields
// match everything; set fields must all match.
type Filter struct {
	MissionIDs   []string `json:"missionIds,omitempty"`
	TransportIDs []string `json:"transportIds,omitempty"`
	OwnerID      string   `json:"ownerId,omitempty"`
	DriverID     string   `json:"driverId,omitempty"`
}

// MissionUpdate is one change-feed event.
type MissionUpdate struct {
	MissionID   string           `json:"missionId"`
	TransportID string           `json:"transportId"`
	OwnerID     string           `json:"ownerId"`
	DriverID    string           `json:"driverId"`
	UpdateType  string           `json:"updateType"`
	Status      string           `json:"status,omitempty"`
	Position    *models.Position `json:"position,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Publisher is the side of the manager the services depend on.
type Publisher interface {
	Publish(update MissionUpdate) error
}

// ClientStats provides statistics about live subscriptions
type ClientStats struct {
	TotalSubscriptions  int   `json:"totalSubscriptions"`
	RemoteSubscriptions int   `json:"remoteSubscriptions"`
	DroppedUpdates      int64 `json:"droppedUpdates"`
}

// Update types
const (
	UpdatePosition = "position"
	UpdateStatus   = "status"
)

// Message types for WebSocket communication
const (
	MessageTypeMissionUpdate = "mission_update"
	MessageTypeSample        = "sample"
	MessageTypeAck           = "ack"
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
	MessageTypeError         = "error"
)
