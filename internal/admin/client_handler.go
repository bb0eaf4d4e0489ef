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

type ClientRequest struct {
	Name           *string `json:"name"`
	Address        *string `json:"address"`
	Email          *string `json:"email"`
	Phone          *string `json:"phone"`
	VatNumber      *string `json:"vat_number"`
	OrganizationID *uint   `json:"organization_id"` // create only, super admin
}

func (r ClientRequest) apply(cl *models.Client) error {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&cl.Name, r.Name)
	set(&cl.Address, r.Address)
	set(&cl.Email, r.Email)
	set(&cl.Phone, r.Phone)
	set(&cl.VatNumber, r.VatNumber)
	if cl.Name == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Client name is required")
	}
	if cl.Email != "" && !strings.Contains(cl.Email, "@") {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid client email")
	}
	return nil
}

// POST /api/admin/clients
func CreateClientHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := actor(c)
		if err != nil {
			return err
		}
		var body ClientRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		orgID, err := resolveOrg(u, body.OrganizationID)
		if err != nil {
			return err
		}
		cl := models.Client{OrganizationID: orgID}
		if err := body.apply(&cl); err != nil {
			return err
		}

		if err := db.WithContext(c.UserContext()).Create(&cl).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not create client")
		}
		writeAudit(c, db, u, &orgID, "client", cl.ID, models.AuditActionCreate,
			fmt.Sprintf("Client added: %s", cl.Name), nil, cl)

		return c.Status(fiber.StatusCreated).JSON(cl)
	}
}

// GET /api/admin/clients?organization_id=
func ListClientsHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := actor(c)
		if err != nil {
			return err
		}
		orgID, err := resolveOrg(u, authz.RequestedOrg(c))
		if err != nil {
			return err
		}
		clients := []models.Client{}
		if err := db.WithContext(c.UserContext()).
			Where("organization_id = ?", orgID).
			Order("name ASC").
			Find(&clients).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list clients")
		}
		return c.JSON(clients)
	}
}

func findClient(c *fiber.Ctx, db *gorm.DB, u *models.User) (*models.Client, error) {
	id, err := paramID(c)
	if err != nil {
		return nil, err
	}
	var cl models.Client
	err = scoped(db.WithContext(c.UserContext()), u).Where("id = ?", id).Take(&cl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fiber.NewError(fiber.StatusNotFound, "Client not found")
	}
	if err != nil {
		return nil, err
	}
	return &cl, nil
}

// PUT /api/admin/clients/:id
func UpdateClientHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := actor(c)
		if err != nil {
			return err
		}
		cl, err := findClient(c, db, u)
		if err != nil {
			return err
		}
		var body ClientRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		before := *cl
		if err := body.apply(cl); err != nil {
			return err
		}
		if err := db.WithContext(c.UserContext()).Save(cl).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not update client")
		}
		writeAudit(c, db, u, &cl.OrganizationID, "client", cl.ID, models.AuditActionUpdate,
			fmt.Sprintf("Client updated: %s", cl.Name), before, *cl)
		return c.JSON(cl)
	}
}

// DELETE /api/admin/clients/:id detaches the client from past invoices.
func DeleteClientHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := actor(c)
		if err != nil {
			return err
		}
		cl, err := findClient(c, db, u)
		if err != nil {
			return err
		}
		err = db.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.Invoice{}).Where("client_id = ?", cl.ID).Update("client_id", nil).Error; err != nil {
				return err
			}
			return tx.Delete(cl).Error
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not delete client")
		}
		writeAudit(c, db, u, &cl.OrganizationID, "client", cl.ID, models.AuditActionDelete,
			fmt.Sprintf("Client deleted: %s", cl.Name), *cl, nil)
		return c.SendStatus(fiber.StatusNoContent)
	}
}
