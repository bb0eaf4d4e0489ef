package models

import "time"

type UserRole string

const (
	RoleViewer       UserRole = "viewer"
	RoleDriver       UserRole = "driver"
	RoleDepotManager UserRole = "depot_manager"
	RoleOrgAdmin     UserRole = "org_admin"
	RoleSuperAdmin   UserRole = "super_admin"
)

// Valid reports whether r is one of the five known roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleViewer, RoleDriver, RoleDepotManager, RoleOrgAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

type User struct {
	ID             uint          `gorm:"primaryKey" json:"id"`
	OrganizationID *uint         `gorm:"index" json:"organization_id"`
	Organization   *Organization `json:"-"`
	Email          string        `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash   string        `gorm:"size:255;not null" json:"-"`
	FirstName      string        `gorm:"size:100;not null" json:"first_name"`
	LastName       string        `gorm:"size:100;not null" json:"last_name"`
	Role           UserRole      `gorm:"size:20;not null" json:"role"`
	// IsActive has no column default on purpose: gorm skips zero values on insert.
	IsActive    bool       `gorm:"not null" json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
