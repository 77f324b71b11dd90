// Package memory provides mutex-guarded in-memory stores with the same contracts
// as the Mongo repositories. Records are copied on the way in and out.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"atypik-backend/internal/models"
	"atypik-backend/internal/repository"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NewStores returns a fresh, empty set of in-memory stores.
func NewStores() *repository.Stores {
	return &repository.Stores{
		Transports: NewTransportStore(),
		Missions:   NewMissionStore(),
		Positions:  NewPositionStore(),
		Users:      NewUserStore(),
		Regions:    NewRegionStore(),
	}
}

func parseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, repository.ErrInvalidID
	}
	return oid, nil
}

// TransportStore

type TransportStore struct {
	mu    sync.RWMutex
	items map[primitive.ObjectID]*models.Transport
}

func NewTransportStore() *TransportStore {
	return &TransportStore{items: make(map[primitive.ObjectID]*models.Transport)}
}

func copyTransport(t *models.Transport) *models.Transport {
	c := *t
	c.Comments = append([]models.Comment(nil), t.Comments...)
	return &c
}

func (s *TransportStore) Create(_ context.Context, transport *models.Transport) (*models.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if transport.ID.IsZero() {
		transport.ID = primitive.NewObjectID()
	}
	s.items[transport.ID] = copyTransport(transport)
	return transport, nil
}

func (s *TransportStore) FindByID(_ context.Context, id string) (*models.Transport, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.items[oid]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyTransport(t), nil
}

func (s *TransportStore) filter(match func(*models.Transport) bool) []*models.Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Transport, 0)
	for _, t := range s.items {
		if match(t) {
			out = append(out, copyTransport(t))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].ID.Hex() < out[j].ID.Hex()
	})
	return out
}

func (s *TransportStore) FindUpcomingByOwner(_ context.Context, ownerID string, from time.Time, limit int64) ([]*models.Transport, error) {
	out := s.filter(func(t *models.Transport) bool {
		return t.OwnerID == ownerID && !t.Date.Before(from) && !t.Status.Terminal()
	})
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *TransportStore) FindByOwnerBetween(_ context.Context, ownerID string, from, to time.Time) ([]*models.Transport, error) {
	return s.filter(func(t *models.Transport) bool {
		return t.OwnerID == ownerID && !t.Date.Before(from) && t.Date.Before(to)
	}), nil
}

func (s *TransportStore) FindByDriverBetween(_ context.Context, driverID string, from, to time.Time) ([]*models.Transport, error) {
	return s.filter(func(t *models.Transport) bool {
		return t.DriverID == driverID && !t.Date.Before(from) && t.Date.Before(to)
	}), nil
}

func (s *TransportStore) CountByOwner(_ context.Context, ownerID string) (map[models.TransportStatus]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.TransportStatus]int64)
	for _, t := range s.items {
		if t.OwnerID == ownerID {
			counts[t.Status]++
		}
	}
	return counts, nil
}

func (s *TransportStore) CountBetween(_ context.Context, from, to time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, t := range s.items {
		if !t.Date.Before(from) && t.Date.Before(to) {
			n++
		}
	}
	return n, nil
}

func (s *TransportStore) mutate(id string, fn func(*models.Transport) error) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.items[oid]
	if !ok {
		return repository.ErrNotFound
	}
	if err := fn(t); err != nil {
		return err
	}
	t.UpdatedAt = time.Now()
	return nil
}

func (s *TransportStore) TransitionStatus(_ context.Context, id string, to models.TransportStatus, from ...models.TransportStatus) error {
	return s.mutate(id, func(t *models.Transport) error {
		if len(from) > 0 && !containsStatus(from, t.Status) {
			return repository.ErrConditionFailed
		}
		t.Status = to
		return nil
	})
}

func containsStatus(list []models.TransportStatus, s models.TransportStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (s *TransportStore) AssignDriver(_ context.Context, id, driverID string) error {
	return s.mutate(id, func(t *models.Transport) error {
		t.DriverID = driverID
		return nil
	})
}

func (s *TransportStore) AddComment(_ context.Context, id string, comment models.Comment) error {
	return s.mutate(id, func(t *models.Transport) error {
		t.Comments = append(t.Comments, comment)
		return nil
	})
}

// MissionStore

type MissionStore struct {
	mu    sync.RWMutex
	items map[primitive.ObjectID]*models.ActiveMission
}

func NewMissionStore() *MissionStore {
	return &MissionStore{items: make(map[primitive.ObjectID]*models.ActiveMission)}
}

func copyMission(m *models.ActiveMission) *models.ActiveMission {
	c := *m
	if m.CurrentPosition != nil {
		pos := *m.CurrentPosition
		c.CurrentPosition = &pos
	}
	if m.EndTime != nil {
		end := *m.EndTime
		c.EndTime = &end
	}
	return &c
}

// CreateOpen checks and inserts under one lock, mirroring the unique index.
func (s *MissionStore) CreateOpen(_ context.Context, mission *models.ActiveMission) (*models.ActiveMission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.items {
		if m.TransportID == mission.TransportID && m.Open {
			return nil, repository.ErrDuplicate
		}
	}

	if mission.ID.IsZero() {
		mission.ID = primitive.NewObjectID()
	}
	mission.Open = true
	s.items[mission.ID] = copyMission(mission)
	return mission, nil
}

func (s *MissionStore) FindByID(_ context.Context, id string) (*models.ActiveMission, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.items[oid]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyMission(m), nil
}

func (s *MissionStore) filter(match func(*models.ActiveMission) bool) []*models.ActiveMission {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ActiveMission, 0)
	for _, m := range s.items {
		if match(m) {
			out = append(out, copyMission(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID.Hex() < out[j].ID.Hex()
	})
	return out
}

func (s *MissionStore) FindOpenByTransport(_ context.Context, transportID string) (*models.ActiveMission, error) {
	found := s.filter(func(m *models.ActiveMission) bool { return m.TransportID == transportID && m.Open })
	if len(found) == 0 {
		return nil, repository.ErrNotFound
	}
	return found[0], nil
}

func (s *MissionStore) FindOpenByOwner(_ context.Context, ownerID string) ([]*models.ActiveMission, error) {
	return s.filter(func(m *models.ActiveMission) bool { return m.OwnerID == ownerID && m.IsOpen() }), nil
}

func (s *MissionStore) FindOpenByDriver(_ context.Context, driverID string) ([]*models.ActiveMission, error) {
	return s.filter(func(m *models.ActiveMission) bool { return m.DriverID == driverID && m.IsOpen() }), nil
}

func (s *MissionStore) CountOpen(_ context.Context) (int64, error) {
	return int64(len(s.filter(func(m *models.ActiveMission) bool { return m.IsOpen() }))), nil
}

func (s *MissionStore) UpdatePosition(_ context.Context, id string, pos models.Position) (bool, error) {
	oid, err := parseID(id)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.items[oid]
	if !ok || !m.Open {
		return false, nil
	}
	if m.CurrentPosition != nil && !m.CurrentPosition.Timestamp.Before(pos.Timestamp) {
		return false, nil
	}
	m.CurrentPosition = &pos
	m.UpdatedAt = time.Now()
	return true, nil
}

func (s *MissionStore) AdvanceStatus(_ context.Context, id string, from, to models.MissionStatus) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.items[oid]
	if !ok || m.Status != from {
		return repository.ErrConditionFailed
	}
	m.Status = to
	m.UpdatedAt = time.Now()
	return nil
}

func (s *MissionStore) Complete(_ context.Context, id string, endTime time.Time) (*models.ActiveMission, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.items[oid]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if m.Status == models.MissionCompleted {
		return nil, repository.ErrConditionFailed
	}
	m.Status = models.MissionCompleted
	m.Open = false
	m.EndTime = &endTime
	m.UpdatedAt = time.Now()
	return copyMission(m), nil
}

func (s *MissionStore) SetTraceURL(_ context.Context, id, url string) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.items[oid]
	if !ok {
		return repository.ErrNotFound
	}
	m.TraceURL = url
	return nil
}

// PositionStore

type PositionStore struct {
	mu    sync.RWMutex
	items []*models.GPSPosition
}

func NewPositionStore() *PositionStore {
	return &PositionStore{}
}

func (s *PositionStore) Append(_ context.Context, position *models.GPSPosition) (*models.GPSPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if position.ID.IsZero() {
		position.ID = primitive.NewObjectID()
	}
	c := *position
	s.items = append(s.items, &c)
	return position, nil
}

func (s *PositionStore) FindByMission(_ context.Context, missionID string, limit int64) ([]*models.GPSPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.GPSPosition, 0)
	for _, p := range s.items {
		if p.MissionID == missionID {
			c := *p
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	}
	return out, nil
}

// UserStore

type UserStore struct {
	mu    sync.RWMutex
	items map[primitive.ObjectID]*models.User
}

func NewUserStore() *UserStore {
	return &UserStore{items: make(map[primitive.ObjectID]*models.User)}
}

func copyUser(u *models.User) *models.User {
	c := *u
	return &c
}

func (s *UserStore) Create(_ context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Email = strings.ToLower(user.Email)
	for _, u := range s.items {
		if u.Email == user.Email {
			return nil, repository.ErrDuplicate
		}
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	s.items[user.ID] = copyUser(user)
	return user, nil
}

func (s *UserStore) FindByID(_ context.Context, id string) (*models.User, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.items[oid]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyUser(u), nil
}

func (s *UserStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	found := s.filter(func(u *models.User) bool { return u.Email == strings.ToLower(email) })
	if len(found) == 0 {
		return nil, repository.ErrNotFound
	}
	return found[0], nil
}

func (s *UserStore) filter(match func(*models.User) bool) []*models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.User, 0)
	for _, u := range s.items {
		if match(u) {
			out = append(out, copyUser(u))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID.Hex() < out[j].ID.Hex()
	})
	return out
}

func (s *UserStore) FindByRole(_ context.Context, role models.Role) ([]*models.User, error) {
	return s.filter(func(u *models.User) bool { return u.Role == role }), nil
}

func (s *UserStore) FindDrivers(_ context.Context, regionID string, status models.DriverStatus) ([]*models.User, error) {
	return s.filter(func(u *models.User) bool {
		return u.Role == models.RoleDriver &&
			(regionID == "" || u.RegionID == regionID) &&
			(status == "" || u.Status == status)
	}), nil
}

func (s *UserStore) mutate(id string, fn func(*models.User) bool) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.items[oid]
	if !ok || !fn(u) {
		return repository.ErrNotFound
	}
	u.UpdatedAt = time.Now()
	return nil
}

func (s *UserStore) UpdateDriverStatus(_ context.Context, id string, status models.DriverStatus) error {
	return s.mutate(id, func(u *models.User) bool {
		if u.Role != models.RoleDriver {
			return false
		}
		u.Status = status
		return true
	})
}

func (s *UserStore) UpdateRole(_ context.Context, id string, role models.Role) error {
	return s.mutate(id, func(u *models.User) bool {
		u.Role = role
		return true
	})
}

func (s *UserStore) UpdateRegion(_ context.Context, id, regionID string) error {
	return s.mutate(id, func(u *models.User) bool {
		u.RegionID = regionID
		return true
	})
}

func (s *UserStore) SetSelectedDriver(_ context.Context, parentID, driverID string) error {
	return s.mutate(parentID, func(u *models.User) bool {
		if u.Role != models.RoleParent {
			return false
		}
		u.SelectedDriverID = driverID
		return true
	})
}

func (s *UserStore) TouchLastLogin(_ context.Context, id string) error {
	now := time.Now()
	return s.mutate(id, func(u *models.User) bool {
		u.LastLogin = &now
		return true
	})
}

func (s *UserStore) Count(_ context.Context) (int64, error) {
	return int64(len(s.filter(func(*models.User) bool { return true }))), nil
}

func (s *UserStore) CountCreatedSince(_ context.Context, since time.Time) (int64, error) {
	return int64(len(s.filter(func(u *models.User) bool { return !u.CreatedAt.Before(since) }))), nil
}

func (s *UserStore) CountDrivers(_ context.Context, status models.DriverStatus) (int64, error) {
	return int64(len(s.filter(func(u *models.User) bool {
		return u.Role == models.RoleDriver && u.Status == status
	}))), nil
}

// RegionStore

type RegionStore struct {
	mu    sync.RWMutex
	items map[primitive.ObjectID]*models.Region
}

func NewRegionStore() *RegionStore {
	return &RegionStore{items: make(map[primitive.ObjectID]*models.Region)}
}

func (s *RegionStore) Create(_ context.Context, region *models.Region) (*models.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.items {
		if strings.EqualFold(r.Name, region.Name) {
			return nil, repository.ErrDuplicate
		}
	}
	if region.ID.IsZero() {
		region.ID = primitive.NewObjectID()
	}
	c := *region
	s.items[region.ID] = &c
	return region, nil
}

func (s *RegionStore) FindByID(_ context.Context, id string) (*models.Region, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.items[oid]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *RegionStore) FindAll(_ context.Context) ([]*models.Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Region, 0, len(s.items))
	for _, r := range s.items {
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
