package services

import (
	"context"
	"time"

	"atypik-backend/internal/apperr"
	"atypik-backend/internal/lifecycle"
	"atypik-backend/internal/models"
	"atypik-backend/internal/repository"
	"atypik-backend/internal/websocket"
	"atypik-backend/pkg/geo"
	"atypik-backend/pkg/notify"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MissionService runs the transport and mission state machine.
type MissionService struct {
	sideEffects
	stores       *repository.Stores
	loc          *time.Location
	now          func() time.Time
	archiver     *TraceArchiver
	guard        *IngestGuard
	dashboardURL string
}

func NewMissionService(stores *repository.Stores, loc *time.Location) *MissionService {
	if loc == nil {
		loc = time.UTC
	}
	return &MissionService{
		stores: stores,
		loc:    loc,
		now:    time.Now,
	}
}

// SetArchiver allows setting the trace archiver run after completion
func (s *MissionService) SetArchiver(archiver *TraceArchiver) {
	s.archiver = archiver
}

// SetDashboardURL sets the link included in notifications
func (s *MissionService) SetDashboardURL(url string) {
	s.dashboardURL = url
}

// StartMission opens the mission for a transport. A second start while one is
// open fails with Conflict and creates nothing.
func (s *MissionService) StartMission(ctx context.Context, actor models.Principal, transportID string) (*models.ActiveMission, error) {
	const op = "StartMission"

	if !actor.IsDriver() {
		return nil, apperr.Forbidden(op, "only drivers can start missions")
	}

	transport, err := s.stores.Transports.FindByID(ctx, transportID)
	if err != nil {
		return nil, storeErr(op, "transport", err)
	}
	if transport.DriverID != "" && transport.DriverID != actor.UserID {
		return nil, apperr.Forbidden(op, "transport is assigned to another driver")
	}

	driver, err := s.stores.Users.FindByID(ctx, actor.UserID)
	if err != nil {
		return nil, storeErr(op, "driver", err)
	}
	if !driver.IsVerifiedDriver() {
		return nil, apperr.Forbidden(op, "driver account is not verified")
	}

	if err := lifecycle.CanStart(transport); err != nil {
		return nil, err
	}

	now := s.now()
	mission, err := s.stores.Missions.CreateOpen(ctx, &models.ActiveMission{
		TransportID: transport.ID.Hex(),
		DriverID:    actor.UserID,
		OwnerID:     transport.OwnerID,
		ChildName:   transport.ChildName,
		From:        transport.From,
		To:          transport.To,
		Status:      models.MissionStarted,
		StartTime:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Conflict(op, "a mission is already active for this transport")
		}
		return nil, storeErr(op, "mission", err)
	}

	log := logrus.WithFields(logrus.Fields{
		"mission":   mission.ID.Hex(),
		"transport": mission.TransportID,
		"driver":    mission.DriverID,
	})

	if transport.DriverID == "" {
		if err := s.stores.Transports.AssignDriver(ctx, mission.TransportID, actor.UserID); err != nil {
			log.WithError(err).Warn("Failed to record driver on transport")
		}
	}
	if err := s.stores.Transports.TransitionStatus(ctx, mission.TransportID,
		models.TransportInProgress, lifecycle.TransportStartSources...); err != nil {
		log.WithError(err).Warn("Transport status not moved to in-progress")
	}

	log.Info("Mission started")
	s.metrics.RecordMissionEvent(ctx, "started")
	s.publish(ctx, statusUpdate(mission))
	s.notifyOwner(ctx, mission, notify.TemplateMissionStarted, driver.DisplayName)

	return mission, nil
}

// AdvanceToInProgress moves a started mission to in_progress. It is a no-op for
// missions already past started.
func (s *MissionService) AdvanceToInProgress(ctx context.Context, missionID string) (bool, error) {
	const op = "AdvanceToInProgress"

	err := s.stores.Missions.AdvanceStatus(ctx, missionID, models.MissionStarted, models.MissionInProgress)
	switch {
	case err == nil:
		mission, findErr := s.stores.Missions.FindByID(ctx, missionID)
		if findErr == nil {
			s.metrics.RecordMissionEvent(ctx, "in_progress")
			s.publish(ctx, statusUpdate(mission))
		}
		return true, nil
	case errors.Is(err, repository.ErrConditionFailed):
		return false, nil
	default:
		return false, storeErr(op, "mission", err)
	}
}

// CompleteMission closes a mission. Only the first call succeeds; later calls
// return InvalidState and leave endTime untouched.
func (s *MissionService) CompleteMission(ctx context.Context, actor models.Principal, missionID string) (*models.ActiveMission, error) {
	const op = "CompleteMission"

	current, err := s.stores.Missions.FindByID(ctx, missionID)
	if err != nil {
		return nil, storeErr(op, "mission", err)
	}
	if !actor.IsAdmin() && current.DriverID != actor.UserID {
		return nil, apperr.Forbidden(op, "only the mission driver can complete it")
	}
	if err := lifecycle.CanComplete(current); err != nil {
		return nil, err
	}

	mission, err := s.stores.Missions.Complete(ctx, missionID, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrConditionFailed) {
			return nil, apperr.InvalidState(op, "mission is already completed")
		}
		return nil, storeErr(op, "mission", err)
	}

	log := logrus.WithFields(logrus.Fields{
		"mission":   missionID,
		"transport": mission.TransportID,
	})

	if err := s.stores.Transports.TransitionStatus(ctx, mission.TransportID,
		models.TransportCompleted, lifecycle.TransportCompleteSources...); err != nil {
		log.WithError(err).Warn("Transport status not moved to completed")
	}
	if s.cacheManager != nil {
		if err := s.cacheManager.InvalidateMission(ctx, missionID); err != nil {
			log.WithError(err).Warn("Failed to invalidate live position")
		}
	}

	s.guard.Forget(missionID)

	log.Info("Mission completed")
	s.metrics.RecordMissionEvent(ctx, "completed")
	s.publish(ctx, statusUpdate(mission))
	s.notifyOwner(ctx, mission, notify.TemplateMissionCompleted, "")

	if s.archiver != nil {
		s.archiver.ArchiveAsync(mission.ID.Hex())
	}
	return mission, nil
}

// ArchiveTrace uploads the trace of a completed mission again, for admins
// recovering from a failed background upload.
func (s *MissionService) ArchiveTrace(ctx context.Context, actor models.Principal, missionID string) (string, error) {
	const op = "ArchiveTrace"

	if !actor.IsAdmin() {
		return "", apperr.Forbidden(op, "admin access required")
	}
	if s.archiver == nil {
		return "", apperr.Upstream(op, errors.New("trace archive is not configured"))
	}
	mission, err := s.stores.Missions.FindByID(ctx, missionID)
	if err != nil {
		return "", storeErr(op, "mission", err)
	}
	if mission.IsOpen() {
		return "", apperr.InvalidState(op, "mission is still open")
	}

	url, err := s.archiver.Archive(ctx, missionID)
	if errors.Is(err, geo.ErrEmptyTrace) {
		return "", apperr.NotFound(op, "no position recorded for this mission")
	}
	if err != nil {
		return "", apperr.Upstream(op, err)
	}
	return url, nil
}

// CancelTransport cancels a transport dated today or later. An open mission for
// it is left running.
func (s *MissionService) CancelTransport(ctx context.Context, actor models.Principal, transportID string) (*models.Transport, error) {
	const op = "CancelTransport"

	transport, err := s.stores.Transports.FindByID(ctx, transportID)
	if err != nil {
		return nil, storeErr(op, "transport", err)
	}
	if !actor.IsAdmin() && transport.OwnerID != actor.UserID {
		return nil, apperr.Forbidden(op, "only the owner can cancel this transport")
	}
	if err := lifecycle.CanCancel(transport, s.now(), s.loc); err != nil {
		return nil, err
	}

	err = s.stores.Transports.TransitionStatus(ctx, transportID, models.TransportCancelled,
		models.TransportProgrammed, models.TransportInProgress)
	if err != nil {
		if errors.Is(err, repository.ErrConditionFailed) {
			return nil, apperr.InvalidState(op, "transport can no longer be cancelled")
		}
		return nil, storeErr(op, "transport", err)
	}

	logrus.WithFields(logrus.Fields{
		"transport": transportID,
		"by":        actor.UserID,
	}).Info("Transport cancelled")

	transport.Status = models.TransportCancelled
	return transport, nil
}

// GetMission returns a mission visible to the actor: its driver, the transport
// owner or an admin.
func (s *MissionService) GetMission(ctx context.Context, actor models.Principal, missionID string) (*models.ActiveMission, error) {
	const op = "GetMission"

	mission, err := s.stores.Missions.FindByID(ctx, missionID)
	if err != nil {
		return nil, storeErr(op, "mission", err)
	}
	if err := canView(op, actor, mission); err != nil {
		return nil, err
	}
	return mission, nil
}

// OpenMissionsForDriver lists the driver's started and in-progress missions.
func (s *MissionService) OpenMissionsForDriver(ctx context.Context, actor models.Principal) ([]*models.ActiveMission, error) {
	const op = "OpenMissionsForDriver"

	if !actor.IsDriver() {
		return nil, apperr.Forbidden(op, "only drivers have missions")
	}
	missions, err := s.stores.Missions.FindOpenByDriver(ctx, actor.UserID)
	if err != nil {
		return nil, apperr.Upstream(op, err)
	}
	return missions, nil
}

// OpenMissionForTransport returns the open mission of a transport the actor may see.
func (s *MissionService) OpenMissionForTransport(ctx context.Context, actor models.Principal, transportID string) (*models.ActiveMission, error) {
	const op = "OpenMissionForTransport"

	mission, err := s.stores.Missions.FindOpenByTransport(ctx, transportID)
	if err != nil {
		return nil, storeErr(op, "active mission", err)
	}
	if err := canView(op, actor, mission); err != nil {
		return nil, err
	}
	return mission, nil
}

func (s *MissionService) notifyOwner(ctx context.Context, mission *models.ActiveMission, template, driverName string) {
	if s.notifier == nil {
		return
	}
	owner, err := s.stores.Users.FindByID(ctx, mission.OwnerID)
	if err != nil {
		logrus.WithError(err).WithField("owner", mission.OwnerID).Warn("Owner lookup failed, notification skipped")
		return
	}
	s.notify(notify.Message{
		To:       owner.Email,
		ToName:   owner.DisplayName,
		Template: template,
		Data: map[string]interface{}{
			"DriverName":   driverName,
			"ChildName":    mission.ChildName,
			"From":         mission.From.Address,
			"To":           mission.To.Address,
			"DashboardURL": s.dashboardURL,
		},
	})
}

func canView(op string, actor models.Principal, mission *models.ActiveMission) error {
	if actor.IsAdmin() || mission.DriverID == actor.UserID || mission.OwnerID == actor.UserID {
		return nil
	}
	return apperr.Forbidden(op, "mission belongs to another account")
}

func statusUpdate(m *models.ActiveMission) websocket.MissionUpdate {
	return websocket.MissionUpdate{
		MissionID:   m.ID.Hex(),
		TransportID: m.TransportID,
		OwnerID:     m.OwnerID,
		DriverID:    m.DriverID,
		UpdateType:  websocket.UpdateStatus,
		Status:      string(m.Status),
		Position:    m.CurrentPosition,
		Timestamp:   m.UpdatedAt,
	}
}
