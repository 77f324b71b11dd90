package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type MissionStatus string

const (
	MissionStarted    MissionStatus = "started"
	MissionInProgress MissionStatus = "in_progress"
	MissionCompleted  MissionStatus = "completed"
)

// OpenMissionStatuses are the non-terminal mission states.
var OpenMissionStatuses = []MissionStatus{MissionStarted, MissionInProgress}

type Position struct {
	Lat       float64   `bson:"lat" json:"lat"`
	Lng       float64   `bson:"lng" json:"lng"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// ActiveMission is the live execution record of a transport.
type ActiveMission struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TransportID     string             `bson:"transport_id" json:"transportId"`
	DriverID        string             `bson:"driver_id" json:"driverId"`
	OwnerID         string             `bson:"owner_id" json:"ownerId"`
	ChildName       string             `bson:"child_name" json:"childName"`
	From            Place              `bson:"from" json:"from"`
	To              Place              `bson:"to" json:"to"`
	Status          MissionStatus      `bson:"status" json:"status"`
	Open            bool               `bson:"open" json:"-"`
	StartTime       time.Time          `bson:"start_time" json:"startTime"`
	EndTime         *time.Time         `bson:"end_time,omitempty" json:"endTime,omitempty"`
	CurrentPosition *Position          `bson:"current_position,omitempty" json:"currentPosition,omitempty"`
	TraceURL        string             `bson:"trace_url,omitempty" json:"traceUrl,omitempty"`
	UpdatedAt       time.Time          `bson:"updated_at" json:"updatedAt"`
}

func (m *ActiveMission) IsOpen() bool {
	return m.Status == MissionStarted || m.Status == MissionInProgress
}

// GPSPosition is an immutable history sample.
type GPSPosition struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	DriverID   string             `bson:"driver_id" json:"driverId"`
	MissionID  string             `bson:"mission_id" json:"missionId"`
	Lat        float64            `bson:"lat" json:"lat"`
	Lng        float64            `bson:"lng" json:"lng"`
	Timestamp  time.Time          `bson:"timestamp" json:"timestamp"`
	Speed      *float64           `bson:"speed,omitempty" json:"speed,omitempty"`
	Heading    *float64           `bson:"heading,omitempty" json:"heading,omitempty"`
	ReceivedAt time.Time          `bson:"received_at" json:"receivedAt"`
}

// Sample is one reading reported by a driver device.
type Sample struct {
	Lat       float64   `json:"lat" validate:"gte=-90,lte=90"`
	Lng       float64   `json:"lng" validate:"gte=-180,lte=180"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
	Speed     *float64  `json:"speed,omitempty" validate:"omitempty,gte=0"`
	Heading   *float64  `json:"heading,omitempty" validate:"omitempty,gte=0,lt=360"`
}

func (s Sample) Position() Position {
	return Position{Lat: s.Lat, Lng: s.Lng, Timestamp: s.Timestamp}
}
