package audit

import (
	"time"

	"delivery-backend/internal/auth"
	"delivery-backend/internal/authz"
	"delivery-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AuditLogResponse struct {
	ID             uint               `json:"id"`
	CreatedAt      string             `json:"created_at"`
	OrganizationID *uint              `json:"organization_id"`
	UserID         uint               `json:"user_id"`
	UserName       string             `json:"user_name"`
	EntityType     string             `json:"entity_type"`
	EntityID       uint               `json:"entity_id"`
	Action         models.AuditAction `json:"action"`
	Description    string             `json:"description"`
}

// GET /api/admin/audit-logs?entity_type=record&entity_id=1&user_id=2&limit=50
func ListAuditLogsHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := auth.CurrentUser(c)

		f := Filter{
			EntityType: c.Query("entity_type"),
			Limit:      c.QueryInt("limit", 100),
		}
		if v := c.QueryInt("entity_id", 0); v > 0 {
			f.EntityID = uint(v)
		}
		if v := c.QueryInt("user_id", 0); v > 0 {
			f.UserID = uint(v)
		}

		// Super admins see every organization unless they narrow it down.
		requested := authz.RequestedOrg(c)
		if user != nil && user.Role == models.RoleSuperAdmin {
			f.OrganizationID = requested
		} else {
			orgID, err := authz.ResolveOrg(user, requested)
			if err != nil {
				return authz.HTTPError(err)
			}
			f.OrganizationID = &orgID
		}

		logs, err := List(c.UserContext(), db, f)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list audit logs")
		}

		resp := make([]AuditLogResponse, 0, len(logs))
		for _, l := range logs {
			resp = append(resp, AuditLogResponse{
				ID:             l.ID,
				CreatedAt:      l.CreatedAt.Format(time.RFC3339),
				OrganizationID: l.OrganizationID,
				UserID:         l.UserID,
				UserName:       l.UserName,
				EntityType:     l.EntityType,
				EntityID:       l.EntityID,
				Action:         l.Action,
				Description:    l.Description,
			})
		}
		return c.JSON(resp)
	}
}
