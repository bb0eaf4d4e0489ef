package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"delivery-backend/internal/auth"
	"delivery-backend/internal/authz"
	"delivery-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SessionRevoker ends every session of a user.
type SessionRevoker interface {
	RevokeAllSessions(ctx context.Context, userID uint) (int64, error)
}

type UserHandlerConfig struct {
	Sessions   SessionRevoker
	BcryptCost int
	Log        logrus.FieldLogger
}

type CreateUserRequest struct {
	Email          string          `json:"email"`
	FirstName      string          `json:"first_name"`
	LastName       string          `json:"last_name"`
	Password       string          `json:"password"`
	Role           models.UserRole `json:"role"`
	OrganizationID *uint           `json:"organization_id"`
}

type UpdateUserRequest struct {
	FirstName *string          `json:"first_name"`
	LastName  *string          `json:"last_name"`
	Role      *models.UserRole `json:"role"`
	IsActive  *bool            `json:"is_active"`
}

// GET /api/admin/users?organization_id=
func ListUsersHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := actor(c)
		if err != nil {
			return err
		}
		q := db.WithContext(c.UserContext())
		if u.Role == models.RoleSuperAdmin {
			if org := authz.RequestedOrg(c); org != nil {
				q = q.Where("organization_id = ?", *org)
			}
		} else {
			q = scoped(q, u)
		}

		var users []models.User
		if err := q.Order("last_name ASC, first_name ASC, id ASC").Find(&users).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not list users")
		}
		resp := make([]auth.ProfileResponse, 0, len(users))
		for i := range users {
			resp = append(resp, auth.Profile(&users[i]))
		}
		return c.JSON(resp)
	}
}

// POST /api/admin/users creates an active account. Nobody can create an
// account above their own role.
func CreateUserHandler(db *gorm.DB, hc UserHandlerConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := actor(c)
		if err != nil {
			return err
		}
		var body CreateUserRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		body.Email = strings.ToLower(strings.TrimSpace(body.Email))
		body.FirstName = strings.TrimSpace(body.FirstName)
		body.LastName = strings.TrimSpace(body.LastName)

		fields := map[string]string{}
		if body.Email == "" || !strings.Contains(body.Email, "@") {
			fields["email"] = "A valid email is required"
		}
		if body.FirstName == "" {
			fields["first_name"] = "First name is required"
		}
		if body.LastName == "" {
			fields["last_name"] = "Last name is required"
		}
		if msg := auth.PasswordProblem(body.Password); msg != "" {
			fields["password"] = msg
		}
		if !body.Role.Valid() {
			fields["role"] = "Unknown role"
		}
		if len(fields) > 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":  "Please correct the highlighted fields",
				"fields": fields,
			})
		}
		if !authz.CanAssign(u, body.Role) {
			return authz.HTTPError(authz.ErrForbidden)
		}

		var orgID *uint
		if body.Role != models.RoleSuperAdmin {
			id, err := resolveOrg(u, body.OrganizationID)
			if err != nil {
				return err
			}
			orgID = &id
		}

		tx := db.WithContext(c.UserContext())
		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", body.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fiber.NewError(fiber.StatusConflict, "This email is already registered")
		}

		hash, err := auth.HashPassword(body.Password, hc.BcryptCost)
		if err != nil {
			return err
		}
		user := models.User{
			OrganizationID: orgID,
			Email:          body.Email,
			PasswordHash:   hash,
			FirstName:      body.FirstName,
			LastName:       body.LastName,
			Role:           body.Role,
			IsActive:       true,
		}
		if err := tx.Create(&user).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not create user")
		}
		writeAudit(c, db, u, orgID, "user", user.ID, models.AuditActionCreate,
			fmt.Sprintf("User created: %s (%s)", user.Email, user.Role), nil, auth.Profile(&user))

		return c.Status(fiber.StatusCreated).JSON(auth.Profile(&user))
	}
}

// PUT /api/admin/users/:id updates names, role and the active flag.
// Deactivation ends every session of the user.
func UpdateUserHandler(db *gorm.DB, hc UserHandlerConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := actor(c)
		if err != nil {
			return err
		}
		id, err := paramID(c)
		if err != nil {
			return err
		}
		var body UpdateUserRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.Role != nil && !authz.CanAssign(u, *body.Role) {
			return authz.HTTPError(authz.ErrForbidden)
		}
		if body.IsActive != nil && !*body.IsActive && id == u.ID {
			return fiber.NewError(fiber.StatusBadRequest, "You cannot deactivate your own account")
		}

		var target models.User
		err = scoped(db.WithContext(c.UserContext()), u).Where("id = ?", id).Take(&target).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "User not found")
		}
		if err != nil {
			return err
		}
		if authz.Rank(target.Role) > authz.Rank(u.Role) {
			return authz.HTTPError(authz.ErrForbidden)
		}

		before := auth.Profile(&target)
		wasActive := target.IsActive
		if body.FirstName != nil {
			if v := strings.TrimSpace(*body.FirstName); v != "" {
				target.FirstName = v
			}
		}
		if body.LastName != nil {
			if v := strings.TrimSpace(*body.LastName); v != "" {
				target.LastName = v
			}
		}
		if body.Role != nil {
			target.Role = *body.Role
		}
		if body.IsActive != nil {
			target.IsActive = *body.IsActive
		}

		if err := db.WithContext(c.UserContext()).Model(&target).
			Select("first_name", "last_name", "role", "is_active", "updated_at").
			Updates(&target).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Could not update user")
		}

		if wasActive && !target.IsActive && hc.Sessions != nil {
			n, err := hc.Sessions.RevokeAllSessions(c.UserContext(), target.ID)
			if err != nil {
				return fmt.Errorf("revoke sessions of user %d: %w", target.ID, err)
			}
			if hc.Log != nil {
				hc.Log.WithFields(logrus.Fields{"user_id": target.ID, "sessions": n}).Info("user deactivated")
			}
		}

		writeAudit(c, db, u, target.OrganizationID, "user", target.ID, models.AuditActionUpdate,
			fmt.Sprintf("User updated: %s", target.Email), before, auth.Profile(&target))

		return c.JSON(auth.Profile(&target))
	}
}
