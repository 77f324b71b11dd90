package models

import "time"

// UpcomingTrip is one entry of a parent's consolidated dashboard feed.
type UpcomingTrip struct {
	TransportID     string          `json:"id"`
	MissionID       string          `json:"missionId,omitempty"`
	ChildName       string          `json:"childName"`
	DriverID        string          `json:"driverId,omitempty"`
	DriverName      string          `json:"driverName"`
	From            Place           `json:"from"`
	To              Place           `json:"to"`
	ScheduledTime   time.Time       `json:"scheduledTime"`
	TransportType   TransportType   `json:"transportType"`
	Status          TransportStatus `json:"status"`
	DistanceMeters  float64         `json:"distanceMeters"`
	CurrentPosition *Position       `json:"currentPosition,omitempty"`
}

type ParentStats struct {
	TotalTrips     int `json:"totalTrips"`
	CompletedTrips int `json:"completedTrips"`
	UpcomingTrips  int `json:"upcomingTrips"`
	ActiveTrips    int `json:"activeTrips"`
}

type ScheduleDay struct {
	Date       time.Time    `json:"date"`
	Weekday    string       `json:"weekday"`
	Transports []*Transport `json:"transports"`
}

type AdminStats struct {
	TotalUsers           int64 `json:"totalUsers"`
	NewUsersThisMonth    int64 `json:"newUsersThisMonth"`
	PendingDrivers       int64 `json:"pendingDrivers"`
	TransportsToday      int64 `json:"transportsToday"`
	TransportsInProgress int64 `json:"transportsInProgress"`
}

// ParentAssignment is the resolved assignment state of one parent.
type ParentAssignment struct {
	Parent           *User   `json:"parent"`
	EligibleDrivers  []*User `json:"eligibleDrivers"`
	SelectedDriverID string  `json:"selectedDriverId,omitempty"`
	Cleared          bool    `json:"cleared"`
}
