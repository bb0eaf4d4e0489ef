package odometer

import (
	"errors"

	"delivery-backend/internal/auth"
	"delivery-backend/internal/authz"

	"github.com/gofiber/fiber/v2"
)

// ParsePeriod reads year/month query parameters, defaulting to the month
// containing now.
func ParsePeriod(c *fiber.Ctx, year, month int) (int, int, error) {
	year = c.QueryInt("year", year)
	month = c.QueryInt("month", month)
	if year < 2000 || year > 2100 {
		return 0, 0, fiber.NewError(fiber.StatusBadRequest, "Invalid year")
	}
	if month < 1 || month > 12 {
		return 0, 0, fiber.NewError(fiber.StatusBadRequest, "Invalid month")
	}
	return year, month, nil
}

// GET /api/odometer?year=&month=&vehicle_id=
func ReportHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := auth.CurrentUser(c)
		orgID, err := authz.ResolveOrg(user, authz.RequestedOrg(c))
		if err != nil {
			return authz.HTTPError(err)
		}

		now := svc.Now()
		year, month, err := ParsePeriod(c, now.Year(), int(now.Month()))
		if err != nil {
			return err
		}

		var vehicleID *uint
		if v := c.QueryInt("vehicle_id", 0); v > 0 {
			id := uint(v)
			vehicleID = &id
		}

		report, err := svc.Report(c.UserContext(), orgID, vehicleID, year, month)
		if errors.Is(err, ErrNoVehicle) {
			return fiber.NewError(fiber.StatusNotFound, "No active vehicle found")
		}
		if err != nil {
			return err
		}
		return c.JSON(report)
	}
}
