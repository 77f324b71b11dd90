package services

import (
	"context"
	"sort"
	"time"

	"atypik-backend/internal/apperr"
	"atypik-backend/internal/models"
	"atypik-backend/internal/repository"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultUpcomingLimit is the size of a parent's upcoming-trip feed.
	DefaultUpcomingLimit = 5

	DriverNamePlaceholder = "Assigned driver"
	DriverNameUnassigned  = "Driver not assigned yet"
)

// TripService builds the parent and driver dashboard views.
type TripService struct {
	sideEffects
	stores *repository.Stores
	loc    *time.Location
	now    func() time.Time
	limit  int
}

func NewTripService(stores *repository.Stores, loc *time.Location) *TripService {
	if loc == nil {
		loc = time.UTC
	}
	return &TripService{
		stores: stores,
		loc:    loc,
		now:    time.Now,
		limit:  DefaultUpcomingLimit,
	}
}

// SetLimit changes the number of entries UpcomingTrips returns
func (s *TripService) SetLimit(n int) {
	if n > 0 {
		s.limit = n
	}
}

// UpcomingTrips merges the parent's next scheduled transports with every open
// mission of theirs. Open missions come first, in start order, with status
// in-progress. Terminal transports never appear. A failed driver lookup falls
// back to a placeholder name; a failed query fails the whole call.
func (s *TripService) UpcomingTrips(ctx context.Context, actor models.Principal, parentID string) ([]models.UpcomingTrip, error) {
	const op = "UpcomingTrips"

	if err := ownerOrAdmin(op, actor, parentID); err != nil {
		return nil, err
	}

	transports, err := s.stores.Transports.FindUpcomingByOwner(ctx, parentID,
		models.DayStart(s.now(), s.loc), int64(s.limit))
	if err != nil {
		return nil, apperr.Upstream(op, err)
	}

	missions, err := s.stores.Missions.FindOpenByOwner(ctx, parentID)
	if err != nil {
		return nil, apperr.Upstream(op, err)
	}

	names := newNameResolver(s.stores.Users, s.cacheManager)

	active := make([]models.UpcomingTrip, 0, len(missions))
	for _, m := range missions {
		transport, err := s.stores.Transports.FindByID(ctx, m.TransportID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrInvalidID) {
				logrus.WithField("mission", m.ID.Hex()).Warn("Open mission references a missing transport")
				continue
			}
			return nil, apperr.Upstream(op, err)
		}
		if transport.OwnerID != parentID || transport.Status.Terminal() {
			continue
		}

		entry := s.tripFromTransport(ctx, names, transport)
		entry.Status = models.TransportInProgress
		entry.MissionID = m.ID.Hex()
		entry.CurrentPosition = m.CurrentPosition
		if m.DriverID != "" && m.DriverID != entry.DriverID {
			entry.DriverID = m.DriverID
			entry.DriverName = names.resolve(ctx, m.DriverID)
		}
		active = append(active, entry)
	}

	scheduled := make([]models.UpcomingTrip, 0, len(transports))
	for _, t := range transports {
		if t.Status.Terminal() {
			continue
		}
		scheduled = append(scheduled, s.tripFromTransport(ctx, names, t))
	}

	return mergeTrips(active, scheduled, s.limit), nil
}

// mergeTrips puts active entries first, keeps the first entry seen for each
// transport and truncates to limit.
func mergeTrips(active, scheduled []models.UpcomingTrip, limit int) []models.UpcomingTrip {
	out := make([]models.UpcomingTrip, 0, limit)
	seen := make(map[string]bool, len(active)+len(scheduled))

	for _, group := range [][]models.UpcomingTrip{active, scheduled} {
		for _, trip := range group {
			if seen[trip.TransportID] {
				continue
			}
			seen[trip.TransportID] = true
			out = append(out, trip)
			if len(out) == limit {
				return out
			}
		}
	}
	return out
}

func (s *TripService) tripFromTransport(ctx context.Context, names *nameResolver, t *models.Transport) models.UpcomingTrip {
	return models.UpcomingTrip{
		TransportID:    t.ID.Hex(),
		ChildName:      t.ChildName,
		DriverID:       t.DriverID,
		DriverName:     names.resolve(ctx, t.DriverID),
		From:           t.From,
		To:             t.To,
		ScheduledTime:  t.ScheduledAt(s.loc),
		TransportType:  t.TransportType,
		Status:         t.Status,
		DistanceMeters: t.DistanceMeters,
	}
}

// ParentStats counts the parent's transports by outcome. Active counts open
// missions; upcoming counts programmed transports.
func (s *TripService) ParentStats(ctx context.Context, actor models.Principal, parentID string) (*models.ParentStats, error) {
	const op = "ParentStats"

	if err := ownerOrAdmin(op, actor, parentID); err != nil {
		return nil, err
	}

	counts, err := s.stores.Transports.CountByOwner(ctx, parentID)
	if err != nil {
		return nil, apperr.Upstream(op, err)
	}
	missions, err := s.stores.Missions.FindOpenByOwner(ctx, parentID)
	if err != nil {
		return nil, apperr.Upstream(op, err)
	}

	stats := &models.ParentStats{
		CompletedTrips: int(counts[models.TransportCompleted]),
		UpcomingTrips:  int(counts[models.TransportProgrammed]),
		ActiveTrips:    len(missions),
	}
	for _, n := range counts {
		stats.TotalTrips += int(n)
	}
	return stats, nil
}

// WeeklySchedule returns the seven days of the Sunday-started week containing
// ref, each with its transports in scheduled order.
func (s *TripService) WeeklySchedule(ctx context.Context, actor models.Principal, parentID string, ref time.Time) ([]models.ScheduleDay, error) {
	const op = "WeeklySchedule"

	if err := ownerOrAdmin(op, actor, parentID); err != nil {
		return nil, err
	}
	if ref.IsZero() {
		ref = s.now()
	}

	today := models.DayStart(ref, s.loc)
	weekStart := today.AddDate(0, 0, -int(today.Weekday()))
	weekEnd := weekStart.AddDate(0, 0, 7)

	transports, err := s.stores.Transports.FindByOwnerBetween(ctx, parentID, weekStart, weekEnd)
	if err != nil {
		return nil, apperr.Upstream(op, err)
	}

	days := make([]models.ScheduleDay, 7)
	index := make(map[string]int, 7)
	for i := range days {
		day := weekStart.AddDate(0, 0, i)
		days[i] = models.ScheduleDay{
			Date:       day,
			Weekday:    day.Weekday().String(),
			Transports: []*models.Transport{},
		}
		index[day.Format(time.DateOnly)] = i
	}
	for _, t := range transports {
		i, ok := index[models.DayStart(t.Date, s.loc).Format(time.DateOnly)]
		if !ok {
			continue
		}
		days[i].Transports = append(days[i].Transports, t)
	}
	for i := range days {
		sortBySchedule(days[i].Transports, s.loc)
	}
	return days, nil
}

// DriverToday lists the transports assigned to the driver for the current day.
func (s *TripService) DriverToday(ctx context.Context, actor models.Principal) ([]*models.Transport, error) {
	const op = "DriverToday"

	if !actor.IsDriver() {
		return nil, apperr.Forbidden(op, "only drivers have a daily schedule")
	}

	start := models.DayStart(s.now(), s.loc)
	transports, err := s.stores.Transports.FindByDriverBetween(ctx, actor.UserID, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, apperr.Upstream(op, err)
	}

	out := transports[:0]
	for _, t := range transports {
		if t.Status != models.TransportCancelled {
			out = append(out, t)
		}
	}
	sortBySchedule(out, s.loc)
	return out, nil
}

func sortBySchedule(transports []*models.Transport, loc *time.Location) {
	sort.SliceStable(transports, func(i, j int) bool {
		return transports[i].ScheduledAt(loc).Before(transports[j].ScheduledAt(loc))
	})
}

func ownerOrAdmin(op string, actor models.Principal, ownerID string) error {
	if actor.IsAdmin() || actor.UserID == ownerID {
		return nil
	}
	return apperr.Forbidden(op, "records belong to another account")
}

// nameResolver looks driver display names up once per call, through the cache
// when one is configured.
type nameResolver struct {
	users repository.UserStore
	cache driverNameCache
	seen  map[string]string
}

func newNameResolver(users repository.UserStore, cache driverNameCache) *nameResolver {
	return &nameResolver{users: users, cache: cache, seen: make(map[string]string)}
}

type driverNameCache interface {
	GetDriverName(ctx context.Context, driverID string) (string, bool, error)
	SetDriverName(ctx context.Context, driverID, name string, ttl time.Duration) error
}

func (r *nameResolver) resolve(ctx context.Context, driverID string) string {
	if driverID == "" {
		return DriverNameUnassigned
	}
	if name, ok := r.seen[driverID]; ok {
		return name
	}

	log := logrus.WithField("driver", driverID)

	if r.cache != nil {
		name, ok, err := r.cache.GetDriverName(ctx, driverID)
		if err != nil {
			log.WithError(err).Debug("Driver name cache read failed")
		}
		if ok && name != "" {
			r.seen[driverID] = name
			return name
		}
	}

	user, err := r.users.FindByID(ctx, driverID)
	if err != nil {
		log.WithError(err).Warn("Driver lookup failed, using placeholder name")
		r.seen[driverID] = DriverNamePlaceholder
		return DriverNamePlaceholder
	}

	name := user.DisplayName
	if name == "" {
		name = DriverNamePlaceholder
	}
	r.seen[driverID] = name

	if r.cache != nil && user.DisplayName != "" {
		if err := r.cache.SetDriverName(ctx, driverID, name, 0); err != nil {
			log.WithError(err).Debug("Driver name cache write failed")
		}
	}
	return name
}
