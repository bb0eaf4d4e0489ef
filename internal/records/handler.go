package records

import (
	"errors"
	"strings"
	"time"

	"delivery-backend/internal/auth"
	"delivery-backend/internal/authz"

	"github.com/gofiber/fiber/v2"
)

// httpError maps service errors for the central error handler. Validation
// errors are written directly so the field messages reach the client.
func httpError(c *fiber.Ctx, err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		body := fiber.Map{"error": ve.Message}
		if len(ve.Fields) > 0 {
			body["fields"] = ve.Fields
		}
		return c.Status(fiber.StatusBadRequest).JSON(body)
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Record not found")
	case errors.Is(err, ErrNoVehicle):
		return fiber.NewError(fiber.StatusBadRequest, "No active vehicle found for this organization")
	}
	return authz.HTTPError(err)
}

func recordID(c *fiber.Ctx) (uint, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid record id")
	}
	return uint(id), nil
}

// parseForm reads a JSON, urlencoded or multipart body plus any uploaded
// files under the "images" field.
func parseForm(c *fiber.Ctx) (Form, []Upload, error) {
	var f Form
	if err := c.BodyParser(&f); err != nil {
		return Form{}, nil, fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if !strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEMultipartForm) {
		return f, nil, nil
	}
	mf, err := c.MultipartForm()
	if err != nil {
		return Form{}, nil, fiber.NewError(fiber.StatusBadRequest, "Invalid multipart form")
	}
	var uploads []Upload
	for _, fh := range mf.File["images"] {
		if fh.Size == 0 && fh.Filename == "" {
			continue
		}
		uploads = append(uploads, UploadFromHeader(fh))
	}
	return f, uploads, nil
}

func parseDateQuery(c *fiber.Ctx, key string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid "+key+" date, expected YYYY-MM-DD")
	}
	return &d, nil
}

// GET /api/records?year=&month=&from=&to=&vehicle_id=&organization_id=
func ListHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		q := ListQuery{
			OrganizationID: authz.RequestedOrg(c),
			Year:           c.QueryInt("year", 0),
			Month:          c.QueryInt("month", 0),
		}
		if q.Month < 0 || q.Month > 12 || (q.Month > 0 && q.Year == 0) {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid month")
		}
		if v := c.QueryInt("vehicle_id", 0); v > 0 {
			id := uint(v)
			q.VehicleID = &id
		}
		var err error
		if q.From, err = parseDateQuery(c, "from"); err != nil {
			return err
		}
		if q.To, err = parseDateQuery(c, "to"); err != nil {
			return err
		}
		if q.To != nil {
			// the query's "to" is inclusive
			end := q.To.AddDate(0, 0, 1)
			q.To = &end
		}

		views, err := svc.List(c.UserContext(), auth.CurrentUser(c), q)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(views)
	}
}

// POST /api/records
func CreateHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		form, uploads, err := parseForm(c)
		if err != nil {
			return err
		}
		in, err := Validate(form, svc.Now(), true)
		if err != nil {
			return httpError(c, err)
		}
		view, err := svc.Create(c.UserContext(), auth.CurrentUser(c), in, uploads)
		if err != nil {
			return httpError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(view)
	}
}

// GET /api/records/:id
func GetHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := recordID(c)
		if err != nil {
			return err
		}
		view, err := svc.Get(c.UserContext(), auth.CurrentUser(c), id)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(view)
	}
}

// GET /api/records/:id/full
func GetFullHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := recordID(c)
		if err != nil {
			return err
		}
		view, err := svc.GetFull(c.UserContext(), auth.CurrentUser(c), id)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(view)
	}
}

// PUT /api/records/:id
func UpdateHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := recordID(c)
		if err != nil {
			return err
		}
		form, uploads, err := parseForm(c)
		if err != nil {
			return err
		}
		in, err := Validate(form, svc.Now(), false)
		if err != nil {
			return httpError(c, err)
		}
		view, err := svc.Update(c.UserContext(), auth.CurrentUser(c), id, in, form.KeepImages, uploads)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(view)
	}
}

// DELETE /api/records/:id
func DeleteHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := recordID(c)
		if err != nil {
			return err
		}
		if err := svc.Delete(c.UserContext(), auth.CurrentUser(c), id); err != nil {
			return httpError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// GET /api/vehicle-usage/:date
func UsageByDateHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		date, err := time.Parse(dateLayout, c.Params("date"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid date, expected YYYY-MM-DD")
		}
		rows, err := svc.UsageByDate(c.UserContext(), auth.CurrentUser(c), date)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(rows)
	}
}
