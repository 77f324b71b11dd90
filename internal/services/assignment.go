package services

import (
	"context"

	"atypik-backend/internal/apperr"
	"atypik-backend/internal/models"
	"atypik-backend/internal/repository"

	"github.com/sirupsen/logrus"
)

// EligibleDrivers returns the drivers a parent may be paired with: verified
// drivers of the parent's region. A parent without a region has none.
func EligibleDrivers(parent *models.User, drivers []*models.User) []*models.User {
	out := make([]*models.User, 0)
	if parent == nil || parent.RegionID == "" {
		return out
	}
	for _, d := range drivers {
		if isEligible(parent, d) {
			out = append(out, d)
		}
	}
	return out
}

func isEligible(parent, driver *models.User) bool {
	return driver != nil &&
		driver.IsVerifiedDriver() &&
		driver.RegionID != "" &&
		driver.RegionID == parent.RegionID
}

// ResolveAssignment computes the eligible set for a parent and keeps the
// stored selection only when it is still eligible. Nothing is persisted: a
// cleared selection stays stored until an admin assigns again.
func ResolveAssignment(parent *models.User, drivers []*models.User) models.ParentAssignment {
	eligible := EligibleDrivers(parent, drivers)
	result := models.ParentAssignment{Parent: parent, EligibleDrivers: eligible}

	if parent.SelectedDriverID == "" {
		return result
	}
	for _, d := range eligible {
		if d.ID.Hex() == parent.SelectedDriverID {
			result.SelectedDriverID = parent.SelectedDriverID
			return result
		}
	}
	result.Cleared = true
	return result
}

// AssignmentService pairs parents and transports with drivers of their region.
type AssignmentService struct {
	sideEffects
	stores *repository.Stores
}

func NewAssignmentService(stores *repository.Stores) *AssignmentService {
	return &AssignmentService{stores: stores}
}

// Board resolves the assignment state of every parent.
func (s *AssignmentService) Board(ctx context.Context, actor models.Principal) ([]models.ParentAssignment, error) {
	const op = "AssignmentBoard"

	if !actor.IsAdmin() {
		return nil, apperr.Forbidden(op, "admin access required")
	}

	parents, err := s.stores.Users.FindByRole(ctx, models.RoleParent)
	if err != nil {
		return nil, apperr.Upstream(op, err)
	}
	drivers, err := s.stores.Users.FindDrivers(ctx, "", models.DriverVerified)
	if err != nil {
		return nil, apperr.Upstream(op, err)
	}

	board := make([]models.ParentAssignment, 0, len(parents))
	for _, p := range parents {
		board = append(board, ResolveAssignment(p, drivers))
	}
	return board, nil
}

// EligibleDriversFor loads the eligible set of one parent.
func (s *AssignmentService) EligibleDriversFor(ctx context.Context, actor models.Principal, parentID string) ([]*models.User, error) {
	const op = "EligibleDrivers"

	if !actor.IsAdmin() {
		return nil, apperr.Forbidden(op, "admin access required")
	}
	parent, err := s.loadParent(ctx, op, parentID)
	if err != nil {
		return nil, err
	}
	if parent.RegionID == "" {
		return []*models.User{}, nil
	}
	drivers, err := s.stores.Users.FindDrivers(ctx, parent.RegionID, models.DriverVerified)
	if err != nil {
		return nil, apperr.Upstream(op, err)
	}
	return EligibleDrivers(parent, drivers), nil
}

// AssignDriverToParent stores the parent's selected driver. A driver outside the
// eligible set is refused before anything is written. An empty driverID clears
// the selection.
func (s *AssignmentService) AssignDriverToParent(ctx context.Context, actor models.Principal, parentID, driverID string) (*models.User, error) {
	const op = "AssignDriverToParent"

	if !actor.IsAdmin() {
		return nil, apperr.Forbidden(op, "admin access required")
	}
	parent, err := s.loadParent(ctx, op, parentID)
	if err != nil {
		return nil, err
	}

	if driverID != "" {
		if err := s.checkEligible(ctx, op, parent, driverID); err != nil {
			return nil, err
		}
	}

	if err := s.stores.Users.SetSelectedDriver(ctx, parentID, driverID); err != nil {
		return nil, storeErr(op, "parent", err)
	}

	logrus.WithFields(logrus.Fields{
		"parent": parentID,
		"driver": driverID,
		"by":     actor.UserID,
	}).Info("Driver assigned to parent")

	parent.SelectedDriverID = driverID
	return parent, nil
}

// AssignDriverToTransport sets the driver of a programmed transport, with the
// same region and verification gating as parent assignment.
func (s *AssignmentService) AssignDriverToTransport(ctx context.Context, actor models.Principal, transportID, driverID string) (*models.Transport, error) {
	const op = "AssignDriverToTransport"

	if !actor.IsAdmin() {
		return nil, apperr.Forbidden(op, "admin access required")
	}
	if driverID == "" {
		return nil, apperr.Validation(op, "driverId is required")
	}

	transport, err := s.stores.Transports.FindByID(ctx, transportID)
	if err != nil {
		return nil, storeErr(op, "transport", err)
	}
	if transport.Status != models.TransportProgrammed {
		return nil, apperr.InvalidState(op, "transport is %s", transport.Status)
	}

	owner, err := s.stores.Users.FindByID(ctx, transport.OwnerID)
	if err != nil {
		return nil, storeErr(op, "transport owner", err)
	}
	if err := s.checkEligible(ctx, op, owner, driverID); err != nil {
		return nil, err
	}

	if err := s.stores.Transports.AssignDriver(ctx, transportID, driverID); err != nil {
		return nil, storeErr(op, "transport", err)
	}

	logrus.WithFields(logrus.Fields{
		"transport": transportID,
		"driver":    driverID,
		"by":        actor.UserID,
	}).Info("Driver assigned to transport")

	transport.DriverID = driverID
	return transport, nil
}

func (s *AssignmentService) loadParent(ctx context.Context, op, parentID string) (*models.User, error) {
	parent, err := s.stores.Users.FindByID(ctx, parentID)
	if err != nil {
		return nil, storeErr(op, "parent", err)
	}
	if parent.Role != models.RoleParent {
		return nil, apperr.Validation(op, "user %s is not a parent", parentID)
	}
	return parent, nil
}

func (s *AssignmentService) checkEligible(ctx context.Context, op string, parent *models.User, driverID string) error {
	driver, err := s.stores.Users.FindByID(ctx, driverID)
	if err != nil {
		return storeErr(op, "driver", err)
	}
	if driver.Role != models.RoleDriver {
		return apperr.Validation(op, "user %s is not a driver", driverID)
	}
	if parent.RegionID == "" || !isEligible(parent, driver) {
		return apperr.InvalidState(op, "driver must be verified and in the parent's region")
	}
	return nil
}
