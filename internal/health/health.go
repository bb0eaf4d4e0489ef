package health

import (
	"context"
	"time"

	"delivery-backend/internal/database"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// GET /health is public and reports whether the database answers.
func Handler(db *gorm.DB, log logrus.FieldLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := database.Ping(ctx, db); err != nil {
			log.WithError(err).Warn("health check: database unreachable")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"ok": false, "db": "down"})
		}
		return c.JSON(fiber.Map{"ok": true, "db": "up"})
	}
}
