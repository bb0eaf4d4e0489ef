// Package authz holds the role hierarchy checks shared by route handlers.
package authz

import (
	"errors"

	"delivery-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("insufficient permissions")
	ErrOrgRequired     = errors.New("organization_id is required")
)

var ranks = map[models.UserRole]int{
	models.RoleViewer:       1,
	models.RoleDriver:       2,
	models.RoleDepotManager: 3,
	models.RoleOrgAdmin:     4,
	models.RoleSuperAdmin:   5,
}

// Rank returns the position of role in the hierarchy; unknown roles rank 0.
func Rank(role models.UserRole) int {
	return ranks[role]
}

// HasRole reports whether the user holds one of the given roles exactly.
func HasRole(u *models.User, roles ...models.UserRole) bool {
	if u == nil {
		return false
	}
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

func RoleAtLeast(u *models.User, min models.UserRole) bool {
	if u == nil {
		return false
	}
	r := Rank(u.Role)
	return r > 0 && r >= Rank(min)
}

func RequireUser(u *models.User) (*models.User, error) {
	if u == nil {
		return nil, ErrUnauthenticated
	}
	return u, nil
}

func RequireRole(u *models.User, roles ...models.UserRole) (*models.User, error) {
	if _, err := RequireUser(u); err != nil {
		return nil, err
	}
	if !HasRole(u, roles...) {
		return nil, ErrForbidden
	}
	return u, nil
}

func RequireRoleAtLeast(u *models.User, min models.UserRole) (*models.User, error) {
	if _, err := RequireUser(u); err != nil {
		return nil, err
	}
	if !RoleAtLeast(u, min) {
		return nil, ErrForbidden
	}
	return u, nil
}

// RequireSameOrg passes super admins unconditionally; everyone else must
// belong to exactly the target organization.
func RequireSameOrg(u *models.User, orgID *uint) (*models.User, error) {
	if _, err := RequireUser(u); err != nil {
		return nil, err
	}
	if u.Role == models.RoleSuperAdmin {
		return u, nil
	}
	if u.OrganizationID == nil || orgID == nil || *u.OrganizationID != *orgID {
		return nil, ErrForbidden
	}
	return u, nil
}

// ResolveOrg picks the organization a request works on. Super admins must
// name one; everyone else is pinned to their own and may only repeat it.
func ResolveOrg(u *models.User, requested *uint) (uint, error) {
	if _, err := RequireUser(u); err != nil {
		return 0, err
	}
	if u.Role == models.RoleSuperAdmin {
		if requested == nil || *requested == 0 {
			return 0, ErrOrgRequired
		}
		return *requested, nil
	}
	if u.OrganizationID == nil {
		return 0, ErrForbidden
	}
	if requested != nil && *requested != 0 && *requested != *u.OrganizationID {
		return 0, ErrForbidden
	}
	return *u.OrganizationID, nil
}

// RequestedOrg reads the optional organization_id query parameter.
func RequestedOrg(c *fiber.Ctx) *uint {
	id := c.QueryInt("organization_id", 0)
	if id <= 0 {
		return nil
	}
	v := uint(id)
	return &v
}

// CanAssign reports whether actor may hand out role to another user.
func CanAssign(actor *models.User, role models.UserRole) bool {
	return actor != nil && role.Valid() && Rank(role) <= Rank(actor.Role)
}

// HTTPError maps the package errors to fiber errors and passes anything
// else through unchanged.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return fiber.NewError(fiber.StatusUnauthorized, "Authentication required")
	case errors.Is(err, ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, "You do not have permission to perform this action")
	case errors.Is(err, ErrOrgRequired):
		return fiber.NewError(fiber.StatusBadRequest, "organization_id is required")
	}
	return err
}
