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
	"atypik-backend/pkg/ratelimit"
	"atypik-backend/pkg/telemetry"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/twpayne/go-geom/encoding/geojson"
)

var validate = validator.New()

// Reasons a sample was not applied.
const (
	ReasonThrottled = "throttled"
	ReasonDropped   = "dropped"
	ReasonStale     = "stale"
)

// IngestResult reports what happened to one sample. A sample that is not
// accepted is not an error: the device keeps sampling and the next one heals.
type IngestResult struct {
	Accepted bool   `json:"accepted"`
	Current  bool   `json:"current"`
	Reason   string `json:"reason,omitempty"`
}

// IngestGuard bounds how often samples are accepted per mission.
type IngestGuard struct {
	limiter *ratelimit.KeyedLimiter
	idleTTL time.Duration
}

// NewIngestGuard accepts one sample per minInterval per mission, with burst. A zero
// interval accepts everything.
func NewIngestGuard(minInterval time.Duration, burst int, idleTTL time.Duration) *IngestGuard {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &IngestGuard{
		limiter: ratelimit.NewKeyedLimiter(minInterval, burst),
		idleTTL: idleTTL,
	}
}

func (g *IngestGuard) Allow(missionID string, now time.Time) bool {
	if g == nil {
		return true
	}
	ok, _ := g.limiter.AllowAt(missionID, now)
	return ok
}

// Forget drops the limiter of a finished mission.
func (g *IngestGuard) Forget(missionID string) {
	if g != nil {
		g.limiter.Forget(missionID)
	}
}

// Sweep drops limiters of missions that stopped reporting.
func (g *IngestGuard) Sweep(_ context.Context) (int, error) {
	return g.limiter.Sweep(time.Now(), g.idleTTL), nil
}

// TrackingService ingests driver positions and serves them back.
type TrackingService struct {
	sideEffects
	stores          *repository.Stores
	missions        *MissionService
	guard           *IngestGuard
	historyPageSize int64
	now             func() time.Time
}

func NewTrackingService(stores *repository.Stores, missions *MissionService, guard *IngestGuard) *TrackingService {
	if missions != nil {
		missions.guard = guard
	}
	return &TrackingService{
		stores:          stores,
		missions:        missions,
		guard:           guard,
		historyPageSize: 500,
		now:             time.Now,
	}
}

// SetHistoryPageSize caps how many of the newest samples History returns
func (s *TrackingService) SetHistoryPageSize(n int64) {
	if n > 0 {
		s.historyPageSize = n
	}
}

// Ingest appends the sample to the mission history and makes it the current
// position when it is newer than the stored one. Store failures drop the sample.
func (s *TrackingService) Ingest(ctx context.Context, actor models.Principal, missionID string, sample models.Sample) (IngestResult, error) {
	const op = "Ingest"
	start := s.now()
	defer func() { s.metrics.RecordIngestDuration(ctx, s.now().Sub(start)) }()

	if err := validate.Struct(sample); err != nil {
		return IngestResult{}, apperr.Validation(op, "invalid sample: %v", err)
	}

	log := logrus.WithField("mission", missionID)

	mission, err := s.stores.Missions.FindByID(ctx, missionID)
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrInvalidID):
		return IngestResult{}, apperr.NotFound(op, "mission not found")
	case err != nil:
		log.WithError(err).Warn("Mission lookup failed, sample dropped")
		s.metrics.RecordSample(ctx, telemetry.OutcomeDropped)
		return IngestResult{Reason: ReasonDropped}, nil
	}

	if mission.DriverID != actor.UserID {
		return IngestResult{}, apperr.Forbidden(op, "mission belongs to another driver")
	}
	if !mission.IsOpen() {
		return IngestResult{}, apperr.InvalidState(op, "mission is completed")
	}

	if !s.guard.Allow(missionID, start) {
		s.metrics.RecordSample(ctx, telemetry.OutcomeThrottled)
		return IngestResult{Reason: ReasonThrottled}, nil
	}

	_, err = s.stores.Positions.Append(ctx, &models.GPSPosition{
		DriverID:   mission.DriverID,
		MissionID:  missionID,
		Lat:        sample.Lat,
		Lng:        sample.Lng,
		Timestamp:  sample.Timestamp,
		Speed:      sample.Speed,
		Heading:    sample.Heading,
		ReceivedAt: start,
	})
	if err != nil {
		log.WithError(err).Warn("Position append failed, sample dropped")
		s.metrics.RecordSample(ctx, telemetry.OutcomeDropped)
		return IngestResult{Reason: ReasonDropped}, nil
	}

	pos := sample.Position()
	current, err := s.stores.Missions.UpdatePosition(ctx, missionID, pos)
	if err != nil {
		log.WithError(err).Warn("Current position update failed")
		current = false
	}

	if _, advance := lifecycle.NextAfterSample(mission.Status); advance && s.missions != nil {
		if _, err := s.missions.AdvanceToInProgress(ctx, missionID); err != nil {
			log.WithError(err).Warn("Mission not advanced to in_progress")
		}
	}

	result := IngestResult{Accepted: true, Current: current}
	if !current {
		result.Reason = ReasonStale
		s.metrics.RecordSample(ctx, telemetry.OutcomeStale)
		return result, nil
	}

	if s.cacheManager != nil {
		if _, err := s.cacheManager.SetLivePosition(ctx, missionID, pos, 0); err != nil {
			log.WithError(err).Warn("Failed to cache live position")
		}
	}
	s.publish(ctx, websocket.MissionUpdate{
		MissionID:   missionID,
		TransportID: mission.TransportID,
		OwnerID:     mission.OwnerID,
		DriverID:    mission.DriverID,
		UpdateType:  websocket.UpdatePosition,
		Status:      string(models.MissionInProgress),
		Position:    &pos,
		Timestamp:   start,
	})
	s.metrics.RecordSample(ctx, telemetry.OutcomeAccepted)
	return result, nil
}

// History returns the newest page of the mission's samples, ordered by timestamp.
func (s *TrackingService) History(ctx context.Context, actor models.Principal, missionID string, limit int64) ([]*models.GPSPosition, error) {
	const op = "History"

	if _, err := s.viewableMission(ctx, op, actor, missionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.historyPageSize {
		limit = s.historyPageSize
	}
	positions, err := s.stores.Positions.FindByMission(ctx, missionID, limit)
	if err != nil {
		return nil, apperr.Upstream(op, err)
	}
	return positions, nil
}

// LivePosition returns the latest known position, preferring the cache.
func (s *TrackingService) LivePosition(ctx context.Context, actor models.Principal, missionID string) (*models.Position, error) {
	const op = "LivePosition"

	mission, err := s.viewableMission(ctx, op, actor, missionID)
	if err != nil {
		return nil, err
	}

	if s.cacheManager != nil && mission.IsOpen() {
		pos, err := s.cacheManager.GetLivePosition(ctx, missionID)
		if err != nil {
			logrus.WithError(err).WithField("mission", missionID).Warn("Live position cache read failed")
		}
		if pos != nil {
			return pos, nil
		}
		if mission.CurrentPosition != nil {
			if _, err := s.cacheManager.SetLivePosition(ctx, missionID, *mission.CurrentPosition, 0); err != nil {
				logrus.WithError(err).WithField("mission", missionID).Debug("Live position cache warm failed")
			}
		}
	}

	if mission.CurrentPosition == nil {
		return nil, apperr.NotFound(op, "no position reported yet")
	}
	return mission.CurrentPosition, nil
}

// Trace returns the mission path as a GeoJSON feature.
func (s *TrackingService) Trace(ctx context.Context, actor models.Principal, missionID string) (*geojson.Feature, error) {
	const op = "Trace"

	if _, err := s.viewableMission(ctx, op, actor, missionID); err != nil {
		return nil, err
	}
	positions, err := s.stores.Positions.FindByMission(ctx, missionID, 0)
	if err != nil {
		return nil, apperr.Upstream(op, err)
	}

	feature, err := geo.TraceFeature(missionID, derefPositions(positions))
	if errors.Is(err, geo.ErrEmptyTrace) {
		return nil, apperr.NotFound(op, "no position recorded for this mission")
	}
	if err != nil {
		return nil, apperr.Upstream(op, err)
	}
	return feature, nil
}

func (s *TrackingService) viewableMission(ctx context.Context, op string, actor models.Principal, missionID string) (*models.ActiveMission, error) {
	mission, err := s.stores.Missions.FindByID(ctx, missionID)
	if err != nil {
		return nil, storeErr(op, "mission", err)
	}
	if err := canView(op, actor, mission); err != nil {
		return nil, err
	}
	return mission, nil
}

func derefPositions(in []*models.GPSPosition) []models.GPSPosition {
	out := make([]models.GPSPosition, 0, len(in))
	for _, p := range in {
		out = append(out, *p)
	}
	return out
}
