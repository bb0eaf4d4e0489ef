package invoice

import (
	"bytes"
	"errors"
	"time"

	"delivery-backend/internal/auth"
	"delivery-backend/internal/authz"
	"delivery-backend/internal/models"
	"delivery-backend/internal/odometer"

	"github.com/gofiber/fiber/v2"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type GenerateRequest struct {
	OrganizationID *uint `json:"organization_id"`
	Year           int   `json:"year"`
	Month          int   `json:"month"`
	ClientID       *uint `json:"client_id"`
	DueDays        *int  `json:"due_days"`
	Company        Party `json:"company"`
	Bank           Bank  `json:"bank"`
	Receiver       Party `json:"receiver"`
}

type ShareRequest struct {
	OrganizationID *uint `json:"organization_id"`
	Year           int   `json:"year"`
	Month          int   `json:"month"`
}

type ShareResponse struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at"`
}

type HandlerConfig struct {
	Signer        *ShareSigner
	PublicBaseURL string
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrClientNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Client not found")
	case errors.Is(err, ErrSharingDisabled):
		return fiber.NewError(fiber.StatusServiceUnavailable, "Invoice sharing is not configured")
	case errors.Is(err, ErrInvalidShare):
		return fiber.NewError(fiber.StatusNotFound, "This invoice link is invalid or has expired")
	}
	return authz.HTTPError(err)
}

// scope checks the role and resolves the organization of an invoice request.
func scope(c *fiber.Ctx, min models.UserRole, requested *uint) (uint, error) {
	user, err := authz.RequireRoleAtLeast(auth.CurrentUser(c), min)
	if err != nil {
		return 0, authz.HTTPError(err)
	}
	org, err := authz.ResolveOrg(user, requested)
	if err != nil {
		return 0, authz.HTTPError(err)
	}
	return org, nil
}

func validPeriod(year, month int) error {
	if year < 2000 || year > 2100 {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid year")
	}
	if month < 1 || month > 12 {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid month")
	}
	return nil
}

func queryOverrides(c *fiber.Ctx) Parties {
	return Parties{
		Company: Party{
			Name:      c.Query("company_name"),
			Address:   c.Query("company_address"),
			Email:     c.Query("company_email"),
			Phone:     c.Query("company_phone"),
			VatNumber: c.Query("company_vat"),
		},
		Bank: Bank{
			Name: c.Query("bank_name"),
			IBAN: c.Query("bank_iban"),
			BIC:  c.Query("bank_bic"),
		},
		Receiver: Party{
			Name:      c.Query("receiver_name"),
			Address:   c.Query("receiver_address"),
			Email:     c.Query("receiver_email"),
			Phone:     c.Query("receiver_phone"),
			VatNumber: c.Query("receiver_vat"),
		},
	}
}

func sendHTML(c *fiber.Ctx, doc *Document, attachment bool) error {
	var buf bytes.Buffer
	if err := RenderHTML(&buf, doc.Invoice, doc.Parties); err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	if attachment {
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="invoice-`+doc.Invoice.Number+`.html"`)
	}
	return c.Send(buf.Bytes())
}

// GET /api/invoice?year=&month=&format=json|html|xlsx&client_id=&due_days=
func GetHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		orgID, err := scope(c, models.RoleDepotManager, authz.RequestedOrg(c))
		if err != nil {
			return err
		}
		now := svc.Now()
		year, month, err := odometer.ParsePeriod(c, now.Year(), int(now.Month()))
		if err != nil {
			return err
		}

		opts := Options{Overrides: queryOverrides(c), Persist: true}
		if id := c.QueryInt("client_id", 0); id > 0 {
			v := uint(id)
			opts.ClientID = &v
		}
		if c.Query("due_days") != "" {
			d := c.QueryInt("due_days", -1)
			if d < 0 {
				return fiber.NewError(fiber.StatusBadRequest, "Invalid due_days")
			}
			opts.DueDays = &d
		}

		doc, err := svc.Generate(c.UserContext(), orgID, year, month, opts)
		if err != nil {
			return httpError(err)
		}

		switch c.Query("format", "json") {
		case "json":
			return c.JSON(doc)
		case "html":
			return sendHTML(c, doc, false)
		case "xlsx":
			var buf bytes.Buffer
			if err := WriteWorkbook(&buf, doc.Invoice, doc.Records); err != nil {
				return err
			}
			c.Set(fiber.HeaderContentType, xlsxMIME)
			c.Set(fiber.HeaderContentDisposition, `attachment; filename="invoice-`+doc.Invoice.Number+`.xlsx"`)
			return c.Send(buf.Bytes())
		}
		return fiber.NewError(fiber.StatusBadRequest, "format must be json, html or xlsx")
	}
}

// POST /api/invoice returns the rendered invoice as a download.
func PostHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body GenerateRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		orgID, err := scope(c, models.RoleDepotManager, body.OrganizationID)
		if err != nil {
			return err
		}
		if err := validPeriod(body.Year, body.Month); err != nil {
			return err
		}
		doc, err := svc.Generate(c.UserContext(), orgID, body.Year, body.Month, Options{
			ClientID:  body.ClientID,
			DueDays:   body.DueDays,
			Overrides: Parties{Company: body.Company, Bank: body.Bank, Receiver: body.Receiver},
			Persist:   true,
		})
		if err != nil {
			return httpError(err)
		}
		return sendHTML(c, doc, true)
	}
}

// GET /api/invoice/summaries?year=
func SummariesHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		orgID, err := scope(c, models.RoleDepotManager, authz.RequestedOrg(c))
		if err != nil {
			return err
		}
		year := c.QueryInt("year", svc.Now().Year())
		if err := validPeriod(year, 1); err != nil {
			return err
		}
		out, err := svc.Summaries(c.UserContext(), orgID, year)
		if err != nil {
			return err
		}
		return c.JSON(out)
	}
}

// POST /api/invoice/share
func ShareHandler(hc HandlerConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body ShareRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		orgID, err := scope(c, models.RoleDepotManager, body.OrganizationID)
		if err != nil {
			return err
		}
		if err := validPeriod(body.Year, body.Month); err != nil {
			return err
		}
		token, exp, err := hc.Signer.Sign(orgID, body.Year, body.Month)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(ShareResponse{
			URL:       hc.PublicBaseURL + "/invoice/shared/" + token,
			ExpiresAt: exp.UTC().Format(time.RFC3339),
		})
	}
}

// GET /invoice/shared/:token is public; the signed token is the credential.
func SharedHandler(svc *Service, hc HandlerConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := hc.Signer.Verify(c.Params("token"))
		if err != nil {
			return httpError(err)
		}
		doc, err := svc.Generate(c.UserContext(), claims.OrganizationID, claims.Year, claims.Month, Options{})
		if err != nil {
			return httpError(err)
		}
		return sendHTML(c, doc, false)
	}
}

// GET /api/analytics?year=&month= (month=0 covers the whole year)
func AnalyticsHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		orgID, err := scope(c, models.RoleViewer, authz.RequestedOrg(c))
		if err != nil {
			return err
		}
		now := svc.Now()
		year := c.QueryInt("year", now.Year())
		month := c.QueryInt("month", int(now.Month()))
		if month == 0 {
			err = validPeriod(year, 1)
		} else {
			err = validPeriod(year, month)
		}
		if err != nil {
			return err
		}
		a, err := svc.Analytics(c.UserContext(), orgID, year, month)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"year": year, "month": month, "analytics": a})
	}
}

type DashboardResponse struct {
	User      auth.ProfileResponse `json:"user"`
	Year      int                  `json:"year"`
	Month     int                  `json:"month"`
	Analytics Analytics            `json:"analytics"`
	Odometer  *odometer.Report     `json:"odometer"`
}

// GET /dashboard is the landing summary: this month's analytics and the
// default vehicle's odometer report.
func DashboardHandler(svc *Service, odo *odometer.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := auth.CurrentUser(c)
		orgID, err := scope(c, models.RoleViewer, authz.RequestedOrg(c))
		if err != nil {
			return err
		}
		now := svc.Now()
		year, month := now.Year(), int(now.Month())

		a, err := svc.Analytics(c.UserContext(), orgID, year, month)
		if err != nil {
			return err
		}
		report, err := odo.Report(c.UserContext(), orgID, nil, year, month)
		if err != nil && !errors.Is(err, odometer.ErrNoVehicle) {
			return err
		}
		return c.JSON(DashboardResponse{
			User:      auth.Profile(user),
			Year:      year,
			Month:     month,
			Analytics: a,
			Odometer:  report,
		})
	}
}
