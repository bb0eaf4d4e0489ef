package admin

import (
	"errors"
	"fmt"
	"strings"

	"delivery-backend/internal/authz"
	"delivery-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type CreateVehicleRequest struct {
	Registration   string `json:"registration"`
	Label          string `json:"label"`
	OrganizationID *uint  `json:"organization_id"` // super admin only
}

type UpdateVehicleRequest struct {
	Registration *string `json:"registration"`
	Label        *string `json:"label"`
	IsActive     *bool   `json:"is_active"`
}

type VehicleResponse struct {
	ID             uint   `json:"id"`
	OrganizationID uint   `json:"organization_id"`
	Registration   string `json:"registration"`
	Label          string `json:"label"`
	IsActive       bool   `json:"is_active"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func vehicleResponse(v models.Vehicle) VehicleResponse {
	return VehicleResponse{
		ID:             v.ID,
		OrganizationID: v.OrganizationID,
		Registration:   v.Registration,
		Label:          v.Label,
		IsActive:       v.IsActive,
		CreatedAt:      v.CreatedAt.Format(timeLayout),
		UpdatedAt:      v.UpdatedAt.Format(timeLayout),
	}
}

func normalizeRegistration(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

func registrationTaken(db *gorm.DB, reg string, exceptID uint) (bool, error) {
	var count int64
	err := db.Model(&models.Vehicle{}).Where("registration = ? AND id <> ?", reg, exceptID).Count(&count).Error
	return count > 0, err
}

// POST /api/admin/vehicles
func CreateVehicleHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := actor(c)
		if err != nil {
			return err
		}
		var body CreateVehicleRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		reg := normalizeRegistration(body.Registration)
		if reg == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Registration is required")
		}
		orgID, err := resolveOrg(u, body.OrganizationID)
		if err != nil {
			return err
		}

		tx := db.WithContext(c.UserContext())
		taken, err := registrationTaken(tx, reg, 0)
		if err != nil {
			return err
		}
		if taken {
			return fiber.NewError(fiber.StatusConflict, "A vehicle with this registration already exists")
		}

		v := models.Vehicle{
			OrganizationID: orgID,
			Registration:   reg,
			Label:          strings.TrimSpace(body.Label),
			IsActive:       true,
		}
		if err := tx.Create(&v).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not create vehicle")
		}
		writeAudit(c, db, u, &orgID, "vehicle", v.ID, models.AuditActionCreate,
			fmt.Sprintf("Vehicle added: %s", v.Registration), nil, v)

		return c.Status(fiber.StatusCreated).JSON(vehicleResponse(v))
	}
}

// GET /api/admin/vehicles?organization_id=&active=true
func ListVehiclesHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := actor(c)
		if err != nil {
			return err
		}
		orgID, err := resolveOrg(u, authz.RequestedOrg(c))
		if err != nil {
			return err
		}

		q := db.WithContext(c.UserContext()).Where("organization_id = ?", orgID)
		if c.Query("active") == "true" {
			q = q.Where("is_active = ?", true)
		}
		var vehicles []models.Vehicle
		if err := q.Order("registration ASC").Find(&vehicles).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list vehicles")
		}

		resp := make([]VehicleResponse, 0, len(vehicles))
		for _, v := range vehicles {
			resp = append(resp, vehicleResponse(v))
		}
		return c.JSON(resp)
	}
}

func findVehicle(c *fiber.Ctx, db *gorm.DB, u *models.User) (*models.Vehicle, error) {
	id, err := paramID(c)
	if err != nil {
		return nil, err
	}
	var v models.Vehicle
	err = scoped(db.WithContext(c.UserContext()), u).Where("id = ?", id).Take(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fiber.NewError(fiber.StatusNotFound, "Vehicle not found")
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// PUT /api/admin/vehicles/:id
func UpdateVehicleHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := actor(c)
		if err != nil {
			return err
		}
		v, err := findVehicle(c, db, u)
		if err != nil {
			return err
		}
		var body UpdateVehicleRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		before := *v
		if body.Registration != nil {
			reg := normalizeRegistration(*body.Registration)
			if reg == "" {
				return fiber.NewError(fiber.StatusBadRequest, "Registration is required")
			}
			taken, err := registrationTaken(db.WithContext(c.UserContext()), reg, v.ID)
			if err != nil {
				return err
			}
			if taken {
				return fiber.NewError(fiber.StatusConflict, "A vehicle with this registration already exists")
			}
			v.Registration = reg
		}
		if body.Label != nil {
			v.Label = strings.TrimSpace(*body.Label)
		}
		if body.IsActive != nil {
			v.IsActive = *body.IsActive
		}

		if err := db.WithContext(c.UserContext()).Save(v).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not update vehicle")
		}
		writeAudit(c, db, u, &v.OrganizationID, "vehicle", v.ID, models.AuditActionUpdate,
			fmt.Sprintf("Vehicle updated: %s", v.Registration), before, *v)

		return c.JSON(vehicleResponse(*v))
	}
}

// DELETE /api/admin/vehicles/:id; vehicles with usage history can only be
// deactivated.
func DeleteVehicleHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := actor(c)
		if err != nil {
			return err
		}
		v, err := findVehicle(c, db, u)
		if err != nil {
			return err
		}

		tx := db.WithContext(c.UserContext())
		var count int64
		if err := tx.Model(&models.VehicleUsageLog{}).Where("vehicle_id = ?", v.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fiber.NewError(fiber.StatusBadRequest, "This vehicle has usage history; deactivate it instead")
		}

		if err := tx.Delete(v).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not delete vehicle")
		}
		writeAudit(c, db, u, &v.OrganizationID, "vehicle", v.ID, models.AuditActionDelete,
			fmt.Sprintf("Vehicle deleted: %s", v.Registration), *v, nil)

		return c.SendStatus(fiber.StatusNoContent)
	}
}
