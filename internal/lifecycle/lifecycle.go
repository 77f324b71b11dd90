// Package lifecycle holds the transition rules for transports and the missions
// they spawn. It performs no I/O.
package lifecycle

import (
	"time"

	"atypik-backend/internal/apperr"
	"atypik-backend/internal/models"
)

// CanStart reports whether a mission may be started for t.
func CanStart(t *models.Transport) error {
	if t.Status.Terminal() {
		return apperr.InvalidState("StartMission", "transport is %s", t.Status)
	}
	return nil
}

// CanComplete reports whether m may be completed.
func CanComplete(m *models.ActiveMission) error {
	if m.Status == models.MissionCompleted {
		return apperr.InvalidState("CompleteMission", "mission is already completed")
	}
	return nil
}

// CanCancel requires the transport day to be today or later and the status to be non-terminal.
func CanCancel(t *models.Transport, now time.Time, loc *time.Location) error {
	if t.Status.Terminal() {
		return apperr.InvalidState("CancelTransport", "transport is already %s", t.Status)
	}
	if models.DayStart(t.Date, loc).Before(models.DayStart(now, loc)) {
		return apperr.InvalidState("CancelTransport", "transport date is in the past")
	}
	return nil
}

// CanComment allows feedback once the day has passed or the transport is completed.
func CanComment(t *models.Transport, now time.Time, loc *time.Location) error {
	if t.Status == models.TransportCompleted {
		return nil
	}
	if models.DayStart(t.Date, loc).Before(models.DayStart(now, loc)) {
		return nil
	}
	return apperr.InvalidState("AddComment", "comments open once the transport is completed or past")
}

// ValidateSchedule rejects a date and time earlier than now.
func ValidateSchedule(day time.Time, clock string, now time.Time, loc *time.Location) (time.Time, error) {
	hour, minute, err := models.ParseClock(clock)
	if err != nil {
		return time.Time{}, apperr.Validation("CreateTransport", "%s", err.Error())
	}
	at := models.AtClock(day, hour, minute, loc)
	if at.Before(now.Truncate(time.Minute)) {
		return time.Time{}, apperr.Validation("CreateTransport", "transport must be scheduled today or later")
	}
	return at, nil
}

// NextAfterSample is the status a mission moves to once it receives a position.
func NextAfterSample(status models.MissionStatus) (models.MissionStatus, bool) {
	if status == models.MissionStarted {
		return models.MissionInProgress, true
	}
	return status, false
}

// TransportStartSources are the transport states a mission start moves to in-progress.
var TransportStartSources = []models.TransportStatus{models.TransportProgrammed}

// TransportCompleteSources are the transport states a mission completion moves to completed.
var TransportCompleteSources = []models.TransportStatus{models.TransportProgrammed, models.TransportInProgress}
