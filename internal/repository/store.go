package repository

import (
	"context"
	"errors"
	"time"

	"atypik-backend/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicate       = errors.New("duplicate record")
	ErrConditionFailed = errors.New("record is not in the expected state")
	ErrInvalidID       = errors.New("invalid id")
)

const queryTimeout = 10 * time.Second

type TransportStore interface {
	Create(ctx context.Context, transport *models.Transport) (*models.Transport, error)
	FindByID(ctx context.Context, id string) (*models.Transport, error)
	// FindUpcomingByOwner returns non-terminal transports dated on or after from, earliest first.
	FindUpcomingByOwner(ctx context.Context, ownerID string, from time.Time, limit int64) ([]*models.Transport, error)
	FindByOwnerBetween(ctx context.Context, ownerID string, from, to time.Time) ([]*models.Transport, error)
	FindByDriverBetween(ctx context.Context, driverID string, from, to time.Time) ([]*models.Transport, error)
	CountByOwner(ctx context.Context, ownerID string) (map[models.TransportStatus]int64, error)
	CountBetween(ctx context.Context, from, to time.Time) (int64, error)
	// TransitionStatus sets the status only when the current one is in from.
	TransitionStatus(ctx context.Context, id string, to models.TransportStatus, from ...models.TransportStatus) error
	AssignDriver(ctx context.Context, id, driverID string) error
	AddComment(ctx context.Context, id string, comment models.Comment) error
}

type MissionStore interface {
	// CreateOpen inserts an open mission. ErrDuplicate means the transport already has one.
	CreateOpen(ctx context.Context, mission *models.ActiveMission) (*models.ActiveMission, error)
	FindByID(ctx context.Context, id string) (*models.ActiveMission, error)
	FindOpenByTransport(ctx context.Context, transportID string) (*models.ActiveMission, error)
	// FindOpenByOwner returns open missions in start order.
	FindOpenByOwner(ctx context.Context, ownerID string) ([]*models.ActiveMission, error)
	FindOpenByDriver(ctx context.Context, driverID string) ([]*models.ActiveMission, error)
	CountOpen(ctx context.Context) (int64, error)
	// UpdatePosition stores pos when the mission is open and pos is newer than the
	// stored position. It reports whether the write happened.
	UpdatePosition(ctx context.Context, id string, pos models.Position) (bool, error)
	AdvanceStatus(ctx context.Context, id string, from, to models.MissionStatus) error
	// Complete closes an open mission. ErrConditionFailed means it was already completed.
	Complete(ctx context.Context, id string, endTime time.Time) (*models.ActiveMission, error)
	SetTraceURL(ctx context.Context, id, url string) error
}

type PositionStore interface {
	Append(ctx context.Context, position *models.GPSPosition) (*models.GPSPosition, error)
	// FindByMission returns samples ordered by timestamp. A positive limit keeps
	// the newest limit samples; limit <= 0 returns the whole trace.
	FindByMission(ctx context.Context, missionID string, limit int64) ([]*models.GPSPosition, error)
}

type UserStore interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByRole(ctx context.Context, role models.Role) ([]*models.User, error)
	// FindDrivers filters drivers by region and status. Empty values match any.
	FindDrivers(ctx context.Context, regionID string, status models.DriverStatus) ([]*models.User, error)
	UpdateDriverStatus(ctx context.Context, id string, status models.DriverStatus) error
	UpdateRole(ctx context.Context, id string, role models.Role) error
	UpdateRegion(ctx context.Context, id, regionID string) error
	SetSelectedDriver(ctx context.Context, parentID, driverID string) error
	TouchLastLogin(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
	CountCreatedSince(ctx context.Context, since time.Time) (int64, error)
	CountDrivers(ctx context.Context, status models.DriverStatus) (int64, error)
}

type RegionStore interface {
	Create(ctx context.Context, region *models.Region) (*models.Region, error)
	FindByID(ctx context.Context, id string) (*models.Region, error)
	FindAll(ctx context.Context) ([]*models.Region, error)
}

// Stores groups every collection the engine reads and writes.
type Stores struct {
	Transports TransportStore
	Missions   MissionStore
	Positions  PositionStore
	Users      UserStore
	Regions    RegionStore
}

func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, ErrInvalidID
	}
	return oid, nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, queryTimeout)
}
