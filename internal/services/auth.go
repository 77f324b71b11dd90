package services

import (
	"context"
	"strings"
	"time"

	"atypik-backend/internal/apperr"
	"atypik-backend/internal/models"
	"atypik-backend/internal/repository"
	"atypik-backend/pkg/jwt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

type AuthService struct {
	stores  *repository.Stores
	jwtUtil *jwt.JWTUtil
	now     func() time.Time
}

func NewAuthService(stores *repository.Stores, jwtUtil *jwt.JWTUtil) *AuthService {
	return &AuthService{
		stores:  stores,
		jwtUtil: jwtUtil,
		now:     time.Now,
	}
}

type RegisterRequest struct {
	Email       string      `json:"email" validate:"required,email"`
	Password    string      `json:"password" validate:"required,min=8"`
	DisplayName string      `json:"displayName" validate:"required,max=100"`
	Phone       string      `json:"phone" validate:"omitempty,e164"`
	Role        models.Role `json:"role" validate:"required,oneof=parent driver"`
	RegionID    string      `json:"regionId"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	User  *models.AuthUser `json:"user"`
	Token string           `json:"token"`
}

// Register creates a parent or driver account. Drivers start pending until an
// admin verifies them.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*LoginResponse, error) {
	const op = "Register"

	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	if req.RegionID != "" {
		if _, err := s.stores.Regions.FindByID(ctx, req.RegionID); err != nil {
			if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrInvalidID) {
				return nil, apperr.Validation(op, "unknown region")
			}
			return nil, apperr.Upstream(op, err)
		}
	}

	hashed, err := HashPassword(req.Password)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash password")
	}

	now := s.now()
	user := &models.User{
		Email:       strings.ToLower(strings.TrimSpace(req.Email)),
		DisplayName: strings.TrimSpace(req.DisplayName),
		Phone:       req.Phone,
		Password:    hashed,
		Role:        req.Role,
		RegionID:    req.RegionID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if user.Role == models.RoleDriver {
		user.Status = models.DriverPending
	}

	user, err = s.stores.Users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Conflict(op, "an account already exists for this email")
		}
		return nil, apperr.Upstream(op, err)
	}

	logrus.WithFields(logrus.Fields{
		"user": user.ID.Hex(),
		"role": user.Role,
	}).Info("Account registered")

	return s.issue(op, user)
}

func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	const op = "Login"

	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	user, err := s.stores.Users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Unauthorized(op, "invalid credentials")
		}
		return nil, apperr.Upstream(op, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, apperr.Unauthorized(op, "invalid credentials")
	}

	if err := s.stores.Users.TouchLastLogin(ctx, user.ID.Hex()); err != nil {
		logrus.WithError(err).WithField("user", user.ID.Hex()).Warn("Failed to record last login")
	}

	return s.issue(op, user)
}

// Refresh reissues a token for a still-existing account. The role is reloaded
// so a promotion takes effect.
func (s *AuthService) Refresh(ctx context.Context, actor models.Principal) (string, error) {
	const op = "RefreshToken"

	user, err := s.stores.Users.FindByID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrInvalidID) {
			return "", apperr.Unauthorized(op, "account no longer exists")
		}
		return "", apperr.Upstream(op, err)
	}

	token, err := s.jwtUtil.GenerateToken(user.ID.Hex(), user.Email, user.Role)
	if err != nil {
		return "", errors.Wrap(err, "failed to generate token")
	}
	return token, nil
}

func (s *AuthService) Profile(ctx context.Context, actor models.Principal) (*models.AuthUser, error) {
	user, err := s.stores.Users.FindByID(ctx, actor.UserID)
	if err != nil {
		return nil, storeErr("Profile", "user", err)
	}
	return toAuthUser(user), nil
}

func (s *AuthService) issue(op string, user *models.User) (*LoginResponse, error) {
	token, err := s.jwtUtil.GenerateToken(user.ID.Hex(), user.Email, user.Role)
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindInternal, Op: op, Message: "failed to generate token", Err: err}
	}
	return &LoginResponse{User: toAuthUser(user), Token: token}, nil
}

func toAuthUser(user *models.User) *models.AuthUser {
	return &models.AuthUser{
		ID:          user.ID.Hex(),
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		Status:      user.Status,
		RegionID:    user.RegionID,
	}
}

func HashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}
