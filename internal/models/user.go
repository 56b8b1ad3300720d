package models

import (
	"time"
)

// Role is the authorisation tier of a user inside a shop.
type Role string

const (
	// RoleClient is a customer booking appointments. Lowest privilege.
	RoleClient Role = "client"

	// RoleBarber is a staff member of a shop.
	RoleBarber Role = "barber"

	// RoleAdmin owns and manages a shop.
	RoleAdmin Role = "admin"
)

// Roles lists every valid role, lowest privilege first.
var Roles = []Role{RoleClient, RoleBarber, RoleAdmin}

// LowestPrivilegeRole is assigned to every self-registered identity.
const LowestPrivilegeRole = RoleClient

// StaffRole is assigned when an identity is already linked to a staff record.
const StaffRole = RoleBarber

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	for _, v := range Roles {
		if r == v {
			return true
		}
	}
	return false
}

// User is the identity record held in the session.
type User struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	FullName        string     `json:"full_name,omitempty"`
	Role            Role       `json:"role"`
	ShopID          *string    `json:"shop_id"`
	IsPlatformAdmin bool       `json:"is_platform_admin"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
}

// HasShop reports whether the user is bound to a tenant.
func (u *User) HasShop() bool {
	return u.ShopID != nil && *u.ShopID != ""
}

// ShopIDValue returns the tenant id or an empty string.
func (u *User) ShopIDValue() string {
	if u.ShopID == nil {
		return ""
	}
	return *u.ShopID
}

// Clone returns a deep copy so callers cannot mutate shared session state.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.ShopID != nil {
		shop := *u.ShopID
		c.ShopID = &shop
	}
	if u.CreatedAt != nil {
		created := *u.CreatedAt
		c.CreatedAt = &created
	}
	return &c
}

// Equal reports whether two users carry the same values.
func (u *User) Equal(o *User) bool {
	if u == nil || o == nil {
		return u == o
	}
	if u.ID != o.ID || u.Email != o.Email || u.FullName != o.FullName ||
		u.Role != o.Role || u.IsPlatformAdmin != o.IsPlatformAdmin ||
		u.ShopIDValue() != o.ShopIDValue() {
		return false
	}
	switch {
	case u.CreatedAt == nil && o.CreatedAt == nil:
		return true
	case u.CreatedAt == nil || o.CreatedAt == nil:
		return false
	}
	return u.CreatedAt.Equal(*o.CreatedAt)
}
