package services

import (
	"context"
	"strings"
	"time"

	"atypik-backend/internal/apperr"
	"atypik-backend/internal/models"
	"atypik-backend/internal/repository"
	"atypik-backend/pkg/notify"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type CreateRegionRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// AdminService covers account moderation, regions and the back-office counters.
type AdminService struct {
	sideEffects
	stores       *repository.Stores
	loc          *time.Location
	now          func() time.Time
	dashboardURL string
}

func NewAdminService(stores *repository.Stores, loc *time.Location) *AdminService {
	if loc == nil {
		loc = time.UTC
	}
	return &AdminService{
		stores: stores,
		loc:    loc,
		now:    time.Now,
	}
}

// SetDashboardURL sets the link included in notifications
func (s *AdminService) SetDashboardURL(url string) {
	s.dashboardURL = url
}

func (s *AdminService) Stats(ctx context.Context, actor models.Principal) (*models.AdminStats, error) {
	const op = "AdminStats"

	if !actor.IsAdmin() {
		return nil, apperr.Forbidden(op, "admin access required")
	}

	now := s.now().In(s.loc)
	today := models.DayStart(now, s.loc)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc)

	var (
		stats models.AdminStats
		err   error
	)
	if stats.TotalUsers, err = s.stores.Users.Count(ctx); err != nil {
		return nil, apperr.Upstream(op, err)
	}
	if stats.NewUsersThisMonth, err = s.stores.Users.CountCreatedSince(ctx, monthStart); err != nil {
		return nil, apperr.Upstream(op, err)
	}
	if stats.PendingDrivers, err = s.stores.Users.CountDrivers(ctx, models.DriverPending); err != nil {
		return nil, apperr.Upstream(op, err)
	}
	if stats.TransportsToday, err = s.stores.Transports.CountBetween(ctx, today, today.AddDate(0, 0, 1)); err != nil {
		return nil, apperr.Upstream(op, err)
	}
	if stats.TransportsInProgress, err = s.stores.Missions.CountOpen(ctx); err != nil {
		return nil, apperr.Upstream(op, err)
	}
	return &stats, nil
}

// ListUsers lists accounts, optionally restricted to one role.
func (s *AdminService) ListUsers(ctx context.Context, actor models.Principal, role models.Role) ([]*models.User, error) {
	const op = "ListUsers"

	if !actor.IsAdmin() {
		return nil, apperr.Forbidden(op, "admin access required")
	}

	roles := []models.Role{models.RoleParent, models.RoleDriver, models.RoleAdmin}
	if role != "" {
		if !role.Valid() {
			return nil, apperr.Validation(op, "unknown role %q", role)
		}
		roles = []models.Role{role}
	}

	users := make([]*models.User, 0)
	for _, r := range roles {
		found, err := s.stores.Users.FindByRole(ctx, r)
		if err != nil {
			return nil, apperr.Upstream(op, err)
		}
		users = append(users, found...)
	}
	return users, nil
}

// ApproveDriver verifies a driver account and emails the driver. The email is
// best-effort.
func (s *AdminService) ApproveDriver(ctx context.Context, actor models.Principal, driverID string) (*models.User, error) {
	const op = "ApproveDriver"

	driver, err := s.setDriverStatus(ctx, op, actor, driverID, models.DriverVerified)
	if err != nil {
		return nil, err
	}

	name := driver.DisplayName
	if name == "" {
		name = "Driver"
	}
	if s.notifier != nil {
		s.notify(notify.Message{
			To:       driver.Email,
			ToName:   name,
			Template: notify.TemplateDriverApproved,
			Data:     map[string]interface{}{"DashboardURL": s.dashboardURL},
		})
	}
	return driver, nil
}

// RevokeDriver moves a driver back to pending. The driver leaves every eligible
// set on the next computation.
func (s *AdminService) RevokeDriver(ctx context.Context, actor models.Principal, driverID string) (*models.User, error) {
	return s.setDriverStatus(ctx, "RevokeDriver", actor, driverID, models.DriverPending)
}

func (s *AdminService) setDriverStatus(ctx context.Context, op string, actor models.Principal, driverID string, status models.DriverStatus) (*models.User, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden(op, "admin access required")
	}

	driver, err := s.stores.Users.FindByID(ctx, driverID)
	if err != nil {
		return nil, storeErr(op, "driver", err)
	}
	if driver.Role != models.RoleDriver {
		return nil, apperr.Validation(op, "user %s is not a driver", driverID)
	}

	if err := s.stores.Users.UpdateDriverStatus(ctx, driverID, status); err != nil {
		return nil, storeErr(op, "driver", err)
	}
	if s.cacheManager != nil {
		if err := s.cacheManager.InvalidateDriver(ctx, driverID); err != nil {
			logrus.WithError(err).WithField("driver", driverID).Warn("Failed to invalidate driver cache")
		}
	}

	logrus.WithFields(logrus.Fields{
		"driver": driverID,
		"status": status,
		"by":     actor.UserID,
	}).Info("Driver status changed")

	driver.Status = status
	return driver, nil
}

func (s *AdminService) PromoteToAdmin(ctx context.Context, actor models.Principal, userID string) (*models.User, error) {
	const op = "PromoteToAdmin"

	if !actor.IsAdmin() {
		return nil, apperr.Forbidden(op, "admin access required")
	}
	user, err := s.stores.Users.FindByID(ctx, userID)
	if err != nil {
		return nil, storeErr(op, "user", err)
	}
	if user.Role == models.RoleAdmin {
		return user, nil
	}
	if err := s.stores.Users.UpdateRole(ctx, userID, models.RoleAdmin); err != nil {
		return nil, storeErr(op, "user", err)
	}

	logrus.WithFields(logrus.Fields{
		"user": userID,
		"by":   actor.UserID,
	}).Info("User promoted to admin")

	user.Role = models.RoleAdmin
	return user, nil
}

// SetUserRegion moves a parent or driver to a region. Assignments are not
// touched; the resolver clears stale ones on the next load.
func (s *AdminService) SetUserRegion(ctx context.Context, actor models.Principal, userID, regionID string) (*models.User, error) {
	const op = "SetUserRegion"

	if !actor.IsAdmin() {
		return nil, apperr.Forbidden(op, "admin access required")
	}
	if regionID != "" {
		if _, err := s.stores.Regions.FindByID(ctx, regionID); err != nil {
			return nil, storeErr(op, "region", err)
		}
	}
	user, err := s.stores.Users.FindByID(ctx, userID)
	if err != nil {
		return nil, storeErr(op, "user", err)
	}
	if err := s.stores.Users.UpdateRegion(ctx, userID, regionID); err != nil {
		return nil, storeErr(op, "user", err)
	}
	user.RegionID = regionID
	return user, nil
}

func (s *AdminService) CreateRegion(ctx context.Context, actor models.Principal, req *CreateRegionRequest) (*models.Region, error) {
	const op = "CreateRegion"

	if !actor.IsAdmin() {
		return nil, apperr.Forbidden(op, "admin access required")
	}
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	region, err := s.stores.Regions.Create(ctx, &models.Region{
		Name:      strings.TrimSpace(req.Name),
		CreatedAt: s.now(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Conflict(op, "a region with this name already exists")
		}
		return nil, apperr.Upstream(op, err)
	}
	return region, nil
}

// ListRegions is public to authenticated users so registration forms can offer them.
func (s *AdminService) ListRegions(ctx context.Context) ([]*models.Region, error) {
	regions, err := s.stores.Regions.FindAll(ctx)
	if err != nil {
		return nil, apperr.Upstream("ListRegions", err)
	}
	return regions, nil
}
