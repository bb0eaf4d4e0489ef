package auth

import (
	"delivery-backend/internal/authz"
	"delivery-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

const (
	CtxUserKey    = "user"
	CtxSessionKey = "session"
)

// CurrentUser returns the user the gate attached, or nil.
func CurrentUser(c *fiber.Ctx) *models.User {
	u, _ := c.Locals(CtxUserKey).(*models.User)
	return u
}

func CurrentSession(c *fiber.Ctx) *models.Session {
	s, _ := c.Locals(CtxSessionKey).(*models.Session)
	return s
}

// UserID is the request logger's view of the current user.
func UserID(c *fiber.Ctx) (uint, bool) {
	if u := CurrentUser(c); u != nil {
		return u.ID, true
	}
	return 0, false
}

func RequireRole(allowedRoles ...models.UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, err := authz.RequireRole(CurrentUser(c), allowedRoles...); err != nil {
			return authz.HTTPError(err)
		}
		return c.Next()
	}
}

func RequireRoleAtLeast(min models.UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, err := authz.RequireRoleAtLeast(CurrentUser(c), min); err != nil {
			return authz.HTTPError(err)
		}
		return c.Next()
	}
}
