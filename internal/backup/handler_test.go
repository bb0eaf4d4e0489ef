package backup

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"delivery-backend/internal/auth"
	"delivery-backend/internal/logging"
	"delivery-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackupApp(m *Manager, user *models.User) *fiber.App {
	log, _ := test.NewNullLogger()
	app := fiber.New(fiber.Config{ErrorHandler: logging.ErrorHandler(log)})
	app.Use(func(c *fiber.Ctx) error {
		if user != nil {
			c.Locals(auth.CtxUserKey, user)
		}
		return c.Next()
	})
	app.Get("/api/backup", ListHandler(m))
	app.Post("/api/backup", ActionHandler(m))
	return app
}

func postAction(t *testing.T, app *fiber.App, action, filename string) (int, map[string]any) {
	t.Helper()
	b, err := json.Marshal(ActionRequest{Action: action, Filename: filename})
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/backup", bytes.NewReader(b))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func TestBackupHandlersRoles(t *testing.T) {
	h := newHarness(t, 30)
	org := uint(1)
	orgAdmin := newBackupApp(h.m, &models.User{ID: 2, Role: models.RoleOrgAdmin, OrganizationID: &org})
	manager := newBackupApp(h.m, &models.User{ID: 3, Role: models.RoleDepotManager, OrganizationID: &org})
	super := newBackupApp(h.m, &models.User{ID: 1, Role: models.RoleSuperAdmin})

	resp, err := manager.Test(httptest.NewRequest("GET", "/api/backup", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	status, body := postAction(t, orgAdmin, "create", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["success"])
	filename := body["backup"].(map[string]any)["filename"].(string)

	resp, err = orgAdmin.Test(httptest.NewRequest("GET", "/api/backup", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var listed struct {
		Backups []Entry `json:"backups"`
		Count   int     `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	assert.Equal(t, 1, listed.Count)
	assert.Equal(t, filename, listed.Backups[0].Filename)

	status, _ = postAction(t, orgAdmin, "restore", filename)
	assert.Equal(t, fiber.StatusForbidden, status)
	status, _ = postAction(t, orgAdmin, "delete", filename)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body = postAction(t, super, "restore", filename)
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body["message"], "Safety backup created")
	assert.Equal(t, []string{filename}, h.dumper.restored)

	status, _ = postAction(t, super, "delete", filename)
	assert.Equal(t, fiber.StatusOK, status)
	status, _ = postAction(t, super, "delete", filename)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestBackupHandlerBadInput(t *testing.T) {
	h := newHarness(t, 30)
	super := newBackupApp(h.m, &models.User{ID: 1, Role: models.RoleSuperAdmin})

	status, body := postAction(t, super, "restore", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "Filename is required for restore action", body["error"])

	status, _ = postAction(t, super, "delete", "../../etc/passwd")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = postAction(t, super, "wipe", "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = postAction(t, newBackupApp(h.m, nil), "create", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)
}
