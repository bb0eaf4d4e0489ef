package invoice

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"delivery-backend/internal/auth"
	"delivery-backend/internal/logging"
	"delivery-backend/internal/models"
	"delivery-backend/internal/odometer"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	records []models.DeliveryRecord
	clients map[uint]models.Client
	org     *models.Organization
	saved   []models.Invoice

	gotFrom, gotTo time.Time
}

func (f *fakeStore) Records(_ context.Context, orgID uint, from, to time.Time) ([]models.DeliveryRecord, error) {
	f.gotFrom, f.gotTo = from, to
	var out []models.DeliveryRecord
	for _, r := range f.records {
		if r.OrganizationID == orgID && !r.EntryDate.Before(from) && r.EntryDate.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveInvoice(_ context.Context, h *models.Invoice) error {
	f.saved = append(f.saved, *h)
	return nil
}

func (f *fakeStore) Client(_ context.Context, orgID, id uint) (*models.Client, error) {
	c, ok := f.clients[id]
	if !ok || c.OrganizationID != orgID {
		return nil, ErrClientNotFound
	}
	return &c, nil
}

func (f *fakeStore) Organization(context.Context, uint) (*models.Organization, error) {
	return f.org, nil
}

type odoStore struct{}

func (odoStore) Readings(context.Context, uint, uint, time.Time) ([]odometer.Reading, error) {
	return []odometer.Reading{
		{RecordID: 1, EntryDate: day(2025, time.July, 1), Odometer: 1000},
		{RecordID: 2, EntryDate: day(2025, time.July, 2), Odometer: 1090},
	}, nil
}

func (odoStore) ManualDistance(context.Context, uint, uint, time.Time, time.Time) (int, error) {
	return 0, nil
}

func (odoStore) DefaultVehicleID(context.Context, uint) (uint, error) { return 1, nil }

type invoiceHarness struct {
	app   *fiber.App
	store *fakeStore
}

func newInvoiceHarness(t *testing.T, user *models.User) *invoiceHarness {
	t.Helper()
	store := &fakeStore{
		records: juneRecords(),
		clients: map[uint]models.Client{
			5: {ID: 5, OrganizationID: 1, Name: "Depot Co", Address: "Unit 4, Cork"},
			6: {ID: 6, OrganizationID: 2, Name: "Elsewhere"},
		},
		org: &models.Organization{ID: 1, Name: "Fast Parcels Ltd", Address: "1 Main St, Dublin"},
	}
	for i := range store.records {
		store.records[i].OrganizationID = 1
	}
	clock := func() time.Time { return testNow }
	svc := NewService(store, testPricing, Parties{Bank: Bank{IBAN: "IE00AIB1234"}}, clock)
	hc := HandlerConfig{
		Signer:        NewShareSigner(strings.Repeat("s", 32), time.Hour, clock),
		PublicBaseURL: "https://ops.example.com",
	}

	log, _ := test.NewNullLogger()
	app := fiber.New(fiber.Config{ErrorHandler: logging.ErrorHandler(log)})
	app.Use(func(c *fiber.Ctx) error {
		if user != nil && !strings.HasPrefix(c.Path(), "/invoice/shared/") {
			c.Locals(auth.CtxUserKey, user)
		}
		return c.Next()
	})
	app.Get("/api/invoice", GetHandler(svc))
	app.Post("/api/invoice", PostHandler(svc))
	app.Get("/api/invoice/summaries", SummariesHandler(svc))
	app.Post("/api/invoice/share", ShareHandler(hc))
	app.Get("/invoice/shared/:token", SharedHandler(svc, hc))
	app.Get("/api/analytics", AnalyticsHandler(svc))
	app.Get("/dashboard", DashboardHandler(svc, odometer.NewService(odoStore{}, clock)))
	return &invoiceHarness{app: app, store: store}
}

func (h *invoiceHarness) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func manager() *models.User {
	org := uint(1)
	return &models.User{ID: 2, FirstName: "Mo", Role: models.RoleDepotManager, OrganizationID: &org}
}

func TestGetInvoiceJSONPersistsHeader(t *testing.T) {
	h := newInvoiceHarness(t, manager())

	resp := h.do(t, "GET", "/api/invoice?year=2025&month=6&client_id=5&due_days=30", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var doc Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "2025-06-001", doc.Invoice.Number)
	assert.Equal(t, "2025-08-01", doc.Invoice.DueDate)
	assert.Equal(t, "Fast Parcels Ltd", doc.Parties.Company.Name)
	assert.Equal(t, "IE00AIB1234", doc.Parties.Bank.IBAN)
	assert.Equal(t, "Depot Co", doc.Parties.Receiver.Name)
	assert.Len(t, doc.Records, 2)

	require.Len(t, h.store.saved, 1)
	saved := h.store.saved[0]
	assert.EqualValues(t, 1, saved.OrganizationID)
	assert.Equal(t, 6, saved.Month)
	require.NotNil(t, saved.ClientID)
	assert.EqualValues(t, 5, *saved.ClientID)
	assert.Equal(t, day(2025, time.June, 1), h.store.gotFrom)
	assert.Equal(t, day(2025, time.July, 1), h.store.gotTo)
}

func TestGetInvoiceFormats(t *testing.T) {
	h := newInvoiceHarness(t, manager())

	resp := h.do(t, "GET", "/api/invoice?year=2025&month=6&format=html&receiver_name=Walk-in", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentType), "text/html")
	assert.Contains(t, readAll(t, resp), "Walk-in")

	resp = h.do(t, "GET", "/api/invoice?year=2025&month=6&format=xlsx", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxMIME, resp.Header.Get(fiber.HeaderContentType))
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), "invoice-2025-06-001.xlsx")

	resp = h.do(t, "GET", "/api/invoice?year=2025&month=6&format=pdf", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, "GET", "/api/invoice?year=2025&month=6&client_id=6", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode, "clients of other organizations are not visible")

	resp = h.do(t, "GET", "/api/invoice?year=2025&month=6&due_days=-2", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestPostInvoiceReturnsAttachment(t *testing.T) {
	h := newInvoiceHarness(t, manager())

	resp := h.do(t, "POST", "/api/invoice", map[string]any{
		"year":     2025,
		"month":    6,
		"company":  map[string]any{"name": "Override Couriers"},
		"receiver": map[string]any{"name": "Acme Retail", "vat_number": "IE999"},
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="invoice-2025-06-001.html"`, resp.Header.Get(fiber.HeaderContentDisposition))
	body := readAll(t, resp)
	assert.Contains(t, body, "Override Couriers")
	assert.Contains(t, body, "VAT: IE999")

	resp = h.do(t, "POST", "/api/invoice", map[string]any{"year": 2025, "month": 13})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestInvoiceRoles(t *testing.T) {
	org := uint(1)
	viewer := &models.User{ID: 3, Role: models.RoleViewer, OrganizationID: &org}
	h := newInvoiceHarness(t, viewer)

	resp := h.do(t, "GET", "/api/invoice?year=2025&month=6", nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = h.do(t, "GET", "/api/analytics?year=2025&month=6", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var body struct {
		Analytics Analytics `json:"analytics"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.InDelta(t, 451.41, body.Analytics.ToInvoice, 0.001)

	resp = h.do(t, "GET", "/api/analytics?year=2025&month=0", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = newInvoiceHarness(t, nil).do(t, "GET", "/api/analytics", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	admin := &models.User{ID: 1, Role: models.RoleSuperAdmin}
	resp = newInvoiceHarness(t, admin).do(t, "GET", "/api/invoice?year=2025&month=6", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, "super admin must pick an organization")
	resp = newInvoiceHarness(t, admin).do(t, "GET", "/api/invoice?year=2025&month=6&organization_id=1", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestSummaries(t *testing.T) {
	h := newInvoiceHarness(t, manager())
	resp := h.do(t, "GET", "/api/invoice/summaries?year=2025", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out []Invoice
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.Equal(t, 6, out[0].Month)
	assert.Empty(t, h.store.saved, "summaries are not persisted")
}

func TestShareLinkRoundTrip(t *testing.T) {
	h := newInvoiceHarness(t, manager())

	resp := h.do(t, "POST", "/api/invoice/share", map[string]any{"year": 2025, "month": 6})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var share ShareResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&share))
	require.True(t, strings.HasPrefix(share.URL, "https://ops.example.com/invoice/shared/"), share.URL)
	assert.Equal(t, "2025-07-02T16:30:00Z", share.ExpiresAt)

	path := strings.TrimPrefix(share.URL, "https://ops.example.com")
	resp = h.do(t, "GET", path, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, readAll(t, resp), "2025-06-001")
	assert.Empty(t, h.store.saved, "viewing a shared invoice does not write")

	resp = h.do(t, "GET", "/invoice/shared/not-a-token", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDashboard(t *testing.T) {
	h := newInvoiceHarness(t, manager())
	resp := h.do(t, "GET", "/dashboard", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body DashboardResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2025, body.Year)
	assert.Equal(t, 7, body.Month)
	assert.Equal(t, "Mo", body.User.FirstName)
	assert.Zero(t, body.Analytics.Records, "no July records")
	require.NotNil(t, body.Odometer)
	assert.Equal(t, 90, body.Odometer.Stats.TotalDistance)
}
