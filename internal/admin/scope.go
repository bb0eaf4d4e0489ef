// Package admin holds the management endpoints for organizations, their
// vehicles, clients and users.
package admin

import (
	"strconv"

	"delivery-backend/internal/audit"
	"delivery-backend/internal/auth"
	"delivery-backend/internal/authz"
	"delivery-backend/internal/logging"
	"delivery-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const timeLayout = "2006-01-02 15:04:05"

// actor returns the signed-in user; the route group has already checked the role.
func actor(c *fiber.Ctx) (*models.User, error) {
	u, err := authz.RequireUser(auth.CurrentUser(c))
	if err != nil {
		return nil, authz.HTTPError(err)
	}
	return u, nil
}

// resolveOrg pins org admins to their own organization; super admins name
// one in the body or the query string.
func resolveOrg(u *models.User, requested *uint) (uint, error) {
	orgID, err := authz.ResolveOrg(u, requested)
	if err != nil {
		return 0, authz.HTTPError(err)
	}
	return orgID, nil
}

// scoped limits a query to the actor's organization unless the actor is a
// super admin.
func scoped(db *gorm.DB, u *models.User) *gorm.DB {
	if u.Role == models.RoleSuperAdmin {
		return db
	}
	if u.OrganizationID == nil {
		return db.Where("1 = 0")
	}
	return db.Where("organization_id = ?", *u.OrganizationID)
}

func paramID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid id")
	}
	return uint(id), nil
}

func writeAudit(c *fiber.Ctx, db *gorm.DB, u *models.User, orgID *uint, entity string, id uint, action models.AuditAction, desc string, before, after any) {
	err := audit.WriteLog(db.WithContext(c.UserContext()), audit.LogOptions{
		OrganizationID: orgID,
		UserID:         u.ID,
		UserName:       u.FullName(),
		EntityType:     entity,
		EntityID:       id,
		Action:         action,
		Description:    desc,
		Before:         before,
		After:          after,
	})
	if err != nil {
		logging.Ctx(c).WithError(err).WithFields(logrus.Fields{
			"entity": entity, "entity_id": id,
		}).Warn("audit log write failed")
	}
}
