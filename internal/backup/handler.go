package backup

import (
	"errors"

	"delivery-backend/internal/auth"
	"delivery-backend/internal/authz"
	"delivery-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

type ActionRequest struct {
	Action   string `json:"action"`
	Filename string `json:"filename"`
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Backup file not found")
	case errors.Is(err, ErrInvalidName):
		return fiber.NewError(fiber.StatusBadRequest, "Invalid backup filename")
	}
	return fiber.NewError(fiber.StatusInternalServerError, "Backup operation failed: "+err.Error())
}

// GET /api/backup
func ListHandler(m *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, err := authz.RequireRoleAtLeast(auth.CurrentUser(c), models.RoleOrgAdmin); err != nil {
			return authz.HTTPError(err)
		}
		list, err := m.List()
		if err != nil {
			return httpError(err)
		}
		return c.JSON(fiber.Map{"success": true, "backups": list, "count": len(list)})
	}
}

// POST /api/backup {action: create|restore|delete, filename}
func ActionHandler(m *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body ActionRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		user := auth.CurrentUser(c)

		switch body.Action {
		case "create":
			if _, err := authz.RequireRoleAtLeast(user, models.RoleOrgAdmin); err != nil {
				return authz.HTTPError(err)
			}
			res, err := m.Create(c.UserContext())
			if err != nil {
				return httpError(err)
			}
			return c.JSON(fiber.Map{"success": true, "backup": res, "message": res.Message})

		case "restore", "delete":
			if _, err := authz.RequireRole(user, models.RoleSuperAdmin); err != nil {
				return authz.HTTPError(err)
			}
			if body.Filename == "" {
				return fiber.NewError(fiber.StatusBadRequest, "Filename is required for "+body.Action+" action")
			}
			if body.Action == "delete" {
				if err := m.Delete(body.Filename); err != nil {
					return httpError(err)
				}
				return c.JSON(fiber.Map{"success": true, "message": "Backup deleted successfully: " + body.Filename})
			}
			res, err := m.Restore(c.UserContext(), body.Filename)
			if err != nil {
				return httpError(err)
			}
			return c.JSON(fiber.Map{"success": true, "restore": res, "message": res.Message})
		}
		return fiber.NewError(fiber.StatusBadRequest, `Invalid action. Use "create", "restore", or "delete"`)
	}
}
