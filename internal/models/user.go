package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Role string

const (
	RoleParent Role = "parent"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleParent, RoleDriver, RoleAdmin:
		return true
	}
	return false
}

// DriverStatus is the verification state of a driver account.
type DriverStatus string

const (
	DriverPending  DriverStatus = "pending"
	DriverVerified DriverStatus = "verified"
)

type User struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email            string             `bson:"email" json:"email"`
	DisplayName      string             `bson:"display_name" json:"displayName"`
	Phone            string             `bson:"phone,omitempty" json:"phone,omitempty"`
	Password         string             `bson:"password" json:"-"`
	Role             Role               `bson:"role" json:"role"`
	Status           DriverStatus       `bson:"status,omitempty" json:"status,omitempty"`
	RegionID         string             `bson:"region_id,omitempty" json:"regionId,omitempty"`
	SelectedDriverID string             `bson:"selected_driver_id,omitempty" json:"selectedDriverId,omitempty"`
	LastLogin        *time.Time         `bson:"last_login,omitempty" json:"lastLogin,omitempty"`
	CreatedAt        time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt        time.Time          `bson:"updated_at" json:"updatedAt"`
}

func (u *User) IsVerifiedDriver() bool {
	return u.Role == RoleDriver && u.Status == DriverVerified
}

type Region struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name"`
	CreatedAt time.Time          `bson:"created_at" json:"createdAt"`
}

type AuthUser struct {
	ID          string       `json:"id"`
	Email       string       `json:"email"`
	DisplayName string       `json:"displayName"`
	Role        Role         `json:"role"`
	Status      DriverStatus `json:"status,omitempty"`
	RegionID    string       `json:"regionId,omitempty"`
}

// Principal is the authenticated caller, resolved once from the identity token.
type Principal struct {
	UserID string
	Email  string
	Role   Role
}

func (p Principal) IsAdmin() bool  { return p.Role == RoleAdmin }
func (p Principal) IsDriver() bool { return p.Role == RoleDriver }
func (p Principal) IsParent() bool { return p.Role == RoleParent }
