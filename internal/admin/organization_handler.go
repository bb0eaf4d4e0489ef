package admin

import (
	"errors"
	"fmt"
	"strings"

	"delivery-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type OrganizationResponse struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	VatNumber string `json:"vat_number"`
	CreatedAt string `json:"created_at"`
}

type CreateOrganizationRequest struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	VatNumber string `json:"vat_number"`
}

type UpdateOrganizationRequest struct {
	Name      *string `json:"name"`
	Address   *string `json:"address"`
	VatNumber *string `json:"vat_number"`
}

func organizationResponse(o models.Organization) OrganizationResponse {
	return OrganizationResponse{
		ID:        o.ID,
		Name:      o.Name,
		Address:   o.Address,
		VatNumber: o.VatNumber,
		CreatedAt: o.CreatedAt.Format(timeLayout),
	}
}

func nameTaken(db *gorm.DB, name string, exceptID uint) (bool, error) {
	var count int64
	err := db.Model(&models.Organization{}).Where("name = ? AND id <> ?", name, exceptID).Count(&count).Error
	return count > 0, err
}

// POST /api/admin/organizations
func CreateOrganizationHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := actor(c)
		if err != nil {
			return err
		}
		var body CreateOrganizationRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		body.Name = strings.TrimSpace(body.Name)
		if body.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Organization name is required")
		}

		tx := db.WithContext(c.UserContext())
		taken, err := nameTaken(tx, body.Name, 0)
		if err != nil {
			return err
		}
		if taken {
			return fiber.NewError(fiber.StatusConflict, "An organization with this name already exists")
		}

		org := models.Organization{
			Name:      body.Name,
			Address:   strings.TrimSpace(body.Address),
			VatNumber: strings.TrimSpace(body.VatNumber),
		}
		if err := tx.Create(&org).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not create organization")
		}
		writeAudit(c, db, u, &org.ID, "organization", org.ID, models.AuditActionCreate,
			fmt.Sprintf("Organization created: %s", org.Name), nil, org)

		return c.Status(fiber.StatusCreated).JSON(organizationResponse(org))
	}
}

// GET /api/admin/organizations
func ListOrganizationsHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var orgs []models.Organization
		if err := db.WithContext(c.UserContext()).Order("name ASC").Find(&orgs).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list organizations")
		}
		res := make([]OrganizationResponse, 0, len(orgs))
		for _, o := range orgs {
			res = append(res, organizationResponse(o))
		}
		return c.JSON(res)
	}
}

func findOrganization(c *fiber.Ctx, db *gorm.DB) (*models.Organization, error) {
	id, err := paramID(c)
	if err != nil {
		return nil, err
	}
	var org models.Organization
	err = db.WithContext(c.UserContext()).Take(&org, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fiber.NewError(fiber.StatusNotFound, "Organization not found")
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// GET /api/admin/organizations/:id
func GetOrganizationHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		org, err := findOrganization(c, db)
		if err != nil {
			return err
		}
		return c.JSON(organizationResponse(*org))
	}
}

// PUT /api/admin/organizations/:id
func UpdateOrganizationHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := actor(c)
		if err != nil {
			return err
		}
		org, err := findOrganization(c, db)
		if err != nil {
			return err
		}
		var body UpdateOrganizationRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		before := *org
		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return fiber.NewError(fiber.StatusBadRequest, "Organization name is required")
			}
			taken, err := nameTaken(db.WithContext(c.UserContext()), name, org.ID)
			if err != nil {
				return err
			}
			if taken {
				return fiber.NewError(fiber.StatusConflict, "An organization with this name already exists")
			}
			org.Name = name
		}
		if body.Address != nil {
			org.Address = strings.TrimSpace(*body.Address)
		}
		if body.VatNumber != nil {
			org.VatNumber = strings.TrimSpace(*body.VatNumber)
		}

		if err := db.WithContext(c.UserContext()).Save(org).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not update organization")
		}
		writeAudit(c, db, u, &org.ID, "organization", org.ID, models.AuditActionUpdate,
			fmt.Sprintf("Organization updated: %s", org.Name), before, *org)

		return c.JSON(organizationResponse(*org))
	}
}

// DELETE /api/admin/organizations/:id refuses while anything still belongs
// to the organization.
func DeleteOrganizationHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := actor(c)
		if err != nil {
			return err
		}
		org, err := findOrganization(c, db)
		if err != nil {
			return err
		}

		tx := db.WithContext(c.UserContext())
		for _, dep := range []struct {
			model any
			what  string
		}{
			{&models.User{}, "users"},
			{&models.Vehicle{}, "vehicles"},
			{&models.DeliveryRecord{}, "records"},
		} {
			var count int64
			if err := tx.Model(dep.model).Where("organization_id = ?", org.ID).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return fiber.NewError(fiber.StatusBadRequest, "Organization still has "+dep.what)
			}
		}

		if err := tx.Delete(org).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not delete organization")
		}
		writeAudit(c, db, u, nil, "organization", org.ID, models.AuditActionDelete,
			fmt.Sprintf("Organization deleted: %s", org.Name), *org, nil)

		return c.SendStatus(fiber.StatusNoContent)
	}
}
