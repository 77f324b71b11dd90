package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"atypik-backend/internal/models"
	"atypik-backend/internal/repository"
	"atypik-backend/internal/repository/memory"
	"atypik-backend/internal/websocket"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var paris, _ = time.LoadLocation("Europe/Paris")

// testNow is a Tuesday morning.
var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, paris)

func fixedClock() time.Time { return testNow }

func day(offset int) time.Time {
	return models.DayStart(testNow, paris).AddDate(0, 0, offset)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	stores *repository.Stores
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, ctx: context.Background(), stores: memory.NewStores()}
}

func (f *fixture) user(role models.Role, name, region string, status models.DriverStatus) *models.User {
	u, err := f.stores.Users.Create(f.ctx, &models.User{
		Email:       name + "@example.com",
		DisplayName: name,
		Role:        role,
		Status:      status,
		RegionID:    region,
		CreatedAt:   testNow,
		UpdatedAt:   testNow,
	})
	require.NoError(f.t, err)
	return u
}

func (f *fixture) parent(name, region string) *models.User {
	return f.user(models.RoleParent, name, region, "")
}

func (f *fixture) driver(name, region string, status models.DriverStatus) *models.User {
	return f.user(models.RoleDriver, name, region, status)
}

func (f *fixture) transport(owner *models.User, date time.Time, clock string, status models.TransportStatus, driverID string) *models.Transport {
	tr, err := f.stores.Transports.Create(f.ctx, &models.Transport{
		OwnerID:       owner.ID.Hex(),
		ChildID:       "child-1",
		ChildName:     "Léa",
		Date:          date,
		Time:          clock,
		TransportType: models.TransportOutbound,
		From:          models.Place{Address: "1 rue de Rivoli", Lat: 48.8566, Lng: 2.3522},
		To:            models.Place{Address: "École Jules Ferry", Lat: 48.8606, Lng: 2.3376},
		DriverID:      driverID,
		Status:        status,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	})
	require.NoError(f.t, err)
	return tr
}

func (f *fixture) missionService() *MissionService {
	s := NewMissionService(f.stores, paris)
	s.now = fixedClock
	return s
}

func (f *fixture) tripService() *TripService {
	s := NewTripService(f.stores, paris)
	s.now = fixedClock
	return s
}

func principal(u *models.User) models.Principal {
	return models.Principal{UserID: u.ID.Hex(), Email: u.Email, Role: u.Role}
}

var adminPrincipal = models.Principal{UserID: "admin-1", Email: "admin@example.com", Role: models.RoleAdmin}

// recordingPublisher captures published updates.
type recordingPublisher struct {
	mu      sync.Mutex
	updates []websocket.MissionUpdate
	err     error
}

func (p *recordingPublisher) Publish(update websocket.MissionUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, update)
	return p.err
}

func (p *recordingPublisher) all() []websocket.MissionUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]websocket.MissionUpdate(nil), p.updates...)
}

// failingPositions rejects every append.
type failingPositions struct {
	repository.PositionStore
}

func (failingPositions) Append(context.Context, *models.GPSPosition) (*models.GPSPosition, error) {
	return nil, errStoreDown
}

// failingUsers fails every lookup by id.
type failingUsers struct {
	repository.UserStore
}

func (failingUsers) FindByID(context.Context, string) (*models.User, error) {
	return nil, errStoreDown
}

// failingMissions fails the open-by-owner query.
type failingMissions struct {
	repository.MissionStore
}

func (failingMissions) FindOpenByOwner(context.Context, string) ([]*models.ActiveMission, error) {
	return nil, errStoreDown
}

var errStoreDown = errors.New("connection refused")
