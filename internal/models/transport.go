package models

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type TransportType string

const (
	TransportOutbound  TransportType = "aller"
	TransportReturn    TransportType = "retour"
	TransportRoundTrip TransportType = "aller-retour"
)

type TransportStatus string

const (
	TransportProgrammed TransportStatus = "programmed"
	TransportInProgress TransportStatus = "in-progress"
	TransportCompleted  TransportStatus = "completed"
	TransportCancelled  TransportStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s TransportStatus) Terminal() bool {
	return s == TransportCompleted || s == TransportCancelled
}

type Place struct {
	Address string  `bson:"address" json:"address"`
	Lat     float64 `bson:"lat" json:"lat"`
	Lng     float64 `bson:"lng" json:"lng"`
}

type Comment struct {
	AuthorID  string    `bson:"author_id" json:"authorId"`
	Text      string    `bson:"text" json:"text"`
	Rating    int       `bson:"rating,omitempty" json:"rating,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

type Transport struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OwnerID        string             `bson:"owner_id" json:"ownerId"`
	ChildID        string             `bson:"child_id" json:"childId"`
	ChildName      string             `bson:"child_name" json:"childName"`
	Date           time.Time          `bson:"date" json:"date"`
	Time           string             `bson:"time" json:"time"`
	TransportType  TransportType      `bson:"transport_type" json:"transportType"`
	From           Place              `bson:"from" json:"from"`
	To             Place              `bson:"to" json:"to"`
	DistanceMeters float64            `bson:"distance_meters" json:"distanceMeters"`
	DriverID       string             `bson:"driver_id,omitempty" json:"driverId,omitempty"`
	Status         TransportStatus    `bson:"status" json:"status"`
	Comments       []Comment          `bson:"comments,omitempty" json:"comments,omitempty"`
	CreatedAt      time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt      time.Time          `bson:"updated_at" json:"updatedAt"`
}

var clockPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ParseClock parses an HH:MM string.
func ParseClock(s string) (hour, minute int, err error) {
	m := clockPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time %q, out of range", s)
	}
	return hour, minute, nil
}

// DayStart truncates t to midnight in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// AtClock returns the wall-clock hour and minute on t's calendar day in loc.
func AtClock(t time.Time, hour, minute int, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, loc)
}

// ScheduledAt combines the calendar day with the HH:MM time. An unparsable
// time falls back to the start of the day.
func (t *Transport) ScheduledAt(loc *time.Location) time.Time {
	hour, minute, err := ParseClock(t.Time)
	if err != nil {
		return DayStart(t.Date, loc)
	}
	return AtClock(t.Date, hour, minute, loc)
}
