package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"atypik-backend/internal/apperr"
	"atypik-backend/internal/lifecycle"
	"atypik-backend/internal/models"
	"atypik-backend/internal/repository"
	"atypik-backend/pkg/geo"
	"atypik-backend/pkg/notify"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type PlaceRequest struct {
	Address string  `json:"address" validate:"required,max=300"`
	Lat     float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng     float64 `json:"lng" validate:"gte=-180,lte=180"`
}

func (p PlaceRequest) Place() models.Place {
	return models.Place{Address: strings.TrimSpace(p.Address), Lat: p.Lat, Lng: p.Lng}
}

type CreateTransportRequest struct {
	ChildID        string               `json:"childId" validate:"required"`
	ChildName      string               `json:"childName" validate:"required,max=100"`
	Date           string               `json:"date" validate:"required,datetime=2006-01-02"`
	Time           string               `json:"time" validate:"required"`
	TransportType  models.TransportType `json:"transportType" validate:"required,oneof=aller retour aller-retour"`
	From           PlaceRequest         `json:"from"`
	To             PlaceRequest         `json:"to"`
	DistanceMeters *float64             `json:"distanceMeters" validate:"omitempty,gte=0"`
}

type CommentRequest struct {
	Text   string `json:"text" validate:"required,max=1000"`
	Rating int    `json:"rating" validate:"omitempty,min=1,max=5"`
}

// TransportService manages the parent's scheduled transports.
type TransportService struct {
	sideEffects
	stores       *repository.Stores
	distance     geo.DistanceService
	loc          *time.Location
	now          func() time.Time
	dashboardURL string
}

func NewTransportService(stores *repository.Stores, distance geo.DistanceService, loc *time.Location) *TransportService {
	if loc == nil {
		loc = time.UTC
	}
	return &TransportService{
		stores:   stores,
		distance: distance,
		loc:      loc,
		now:      time.Now,
	}
}

// SetDashboardURL sets the link included in notifications
func (s *TransportService) SetDashboardURL(url string) {
	s.dashboardURL = url
}

// Create schedules a transport for today or later. The distance is computed
// when the caller did not send one; a failed computation leaves it at zero.
// The parent's selected driver, if any, is assigned and notified.
func (s *TransportService) Create(ctx context.Context, actor models.Principal, req *CreateTransportRequest) (*models.Transport, error) {
	const op = "CreateTransport"

	if !actor.IsParent() {
		return nil, apperr.Forbidden(op, "only parents can schedule transports")
	}
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	day, err := time.ParseInLocation(time.DateOnly, req.Date, s.loc)
	if err != nil {
		return nil, apperr.Validation(op, "invalid date %q", req.Date)
	}
	now := s.now()
	at, err := lifecycle.ValidateSchedule(day, req.Time, now, s.loc)
	if err != nil {
		return nil, err
	}

	parent, err := s.stores.Users.FindByID(ctx, actor.UserID)
	if err != nil {
		return nil, storeErr(op, "parent", err)
	}
	driver := s.selectedDriver(ctx, parent)

	transport := &models.Transport{
		OwnerID:       actor.UserID,
		ChildID:       req.ChildID,
		ChildName:     strings.TrimSpace(req.ChildName),
		Date:          models.DayStart(at, s.loc),
		Time:          fmt.Sprintf("%02d:%02d", at.Hour(), at.Minute()),
		TransportType: req.TransportType,
		From:          req.From.Place(),
		To:            req.To.Place(),
		Status:        models.TransportProgrammed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if driver != nil {
		transport.DriverID = driver.ID.Hex()
	}
	if req.DistanceMeters != nil {
		transport.DistanceMeters = *req.DistanceMeters
	} else {
		transport.DistanceMeters = s.computeDistance(ctx, transport.From, transport.To)
	}

	transport, err = s.stores.Transports.Create(ctx, transport)
	if err != nil {
		return nil, apperr.Upstream(op, err)
	}

	logrus.WithFields(logrus.Fields{
		"transport": transport.ID.Hex(),
		"owner":     transport.OwnerID,
		"date":      transport.Date.Format(time.DateOnly),
		"clock":     transport.Time,
		"driver":    transport.DriverID,
	}).Info("Transport scheduled")

	s.notifyDriver(transport, driver)
	return transport, nil
}

func (s *TransportService) computeDistance(ctx context.Context, from, to models.Place) float64 {
	if s.distance == nil {
		return 0
	}
	meters, err := s.distance.Distance(ctx, from, to)
	if err != nil {
		logrus.WithError(err).Warn("Distance computation failed, storing zero")
		return 0
	}
	return meters
}

// selectedDriver returns the parent's chosen driver when still eligible. A
// stale selection is ignored and the transport is left unassigned.
func (s *TransportService) selectedDriver(ctx context.Context, parent *models.User) *models.User {
	if parent.SelectedDriverID == "" {
		return nil
	}
	log := logrus.WithFields(logrus.Fields{
		"parent": parent.ID.Hex(),
		"driver": parent.SelectedDriverID,
	})
	driver, err := s.stores.Users.FindByID(ctx, parent.SelectedDriverID)
	if err != nil {
		log.WithError(err).Warn("Selected driver lookup failed, transport left unassigned")
		return nil
	}
	if !isEligible(parent, driver) {
		log.Info("Selected driver is no longer eligible, transport left unassigned")
		return nil
	}
	return driver
}

func (s *TransportService) notifyDriver(t *models.Transport, driver *models.User) {
	if s.notifier == nil || driver == nil {
		return
	}

	data := map[string]interface{}{
		"ChildName":     t.ChildName,
		"Date":          t.Date.Format("02/01/2006"),
		"Time":          t.Time,
		"TransportType": string(t.TransportType),
		"From":          t.From.Address,
		"To":            t.To.Address,
		"DashboardURL":  s.dashboardURL,
	}
	if t.DistanceMeters > 0 {
		data["DistanceKm"] = fmt.Sprintf("%.2f", t.DistanceMeters/1000)
	}
	s.notify(notify.Message{
		To:       driver.Email,
		ToName:   driver.DisplayName,
		Template: notify.TemplateTransportScheduled,
		Data:     data,
	})
}

// Get returns a transport visible to its owner, its driver or an admin.
func (s *TransportService) Get(ctx context.Context, actor models.Principal, id string) (*models.Transport, error) {
	const op = "GetTransport"

	transport, err := s.stores.Transports.FindByID(ctx, id)
	if err != nil {
		return nil, storeErr(op, "transport", err)
	}
	if !actor.IsAdmin() && transport.OwnerID != actor.UserID && transport.DriverID != actor.UserID {
		return nil, apperr.Forbidden(op, "transport belongs to another account")
	}
	return transport, nil
}

// List returns the caller's transports dated in [from, to). Parents see what they
// own, drivers what they are assigned.
func (s *TransportService) List(ctx context.Context, actor models.Principal, from, to time.Time) ([]*models.Transport, error) {
	const op = "ListTransports"

	if from.IsZero() {
		from = models.DayStart(s.now(), s.loc)
	}
	if to.IsZero() {
		to = from.AddDate(0, 1, 0)
	}
	if !to.After(from) {
		return nil, apperr.Validation(op, "range end must be after its start")
	}
	if to.Sub(from) > 366*24*time.Hour {
		return nil, apperr.Validation(op, "range must not exceed one year")
	}

	var (
		transports []*models.Transport
		err        error
	)
	switch actor.Role {
	case models.RoleDriver:
		transports, err = s.stores.Transports.FindByDriverBetween(ctx, actor.UserID, from, to)
	case models.RoleParent:
		transports, err = s.stores.Transports.FindByOwnerBetween(ctx, actor.UserID, from, to)
	default:
		return nil, apperr.Forbidden(op, "only parents and drivers have transports")
	}
	if err != nil {
		return nil, apperr.Upstream(op, err)
	}
	return transports, nil
}

// AddComment records feedback from the owner or the driver once the transport
// day has passed or it is completed.
func (s *TransportService) AddComment(ctx context.Context, actor models.Principal, id string, req *CommentRequest) (*models.Comment, error) {
	const op = "AddComment"

	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	transport, err := s.stores.Transports.FindByID(ctx, id)
	if err != nil {
		return nil, storeErr(op, "transport", err)
	}
	if transport.OwnerID != actor.UserID && transport.DriverID != actor.UserID {
		return nil, apperr.Forbidden(op, "only the owner or the driver can comment")
	}
	if err := lifecycle.CanComment(transport, s.now(), s.loc); err != nil {
		return nil, err
	}

	comment := models.Comment{
		AuthorID:  actor.UserID,
		Text:      strings.TrimSpace(req.Text),
		Rating:    req.Rating,
		CreatedAt: s.now(),
	}
	if err := s.stores.Transports.AddComment(ctx, id, comment); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound(op, "transport not found")
		}
		return nil, apperr.Upstream(op, err)
	}
	return &comment, nil
}
