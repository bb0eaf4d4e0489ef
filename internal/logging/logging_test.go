package logging

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"delivery-backend/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPicksFormatterByEnv(t *testing.T) {
	prod := New(&config.Config{Env: "production"})
	_, isJSON := prod.Formatter.(*logrus.JSONFormatter)
	assert.True(t, isJSON)
	assert.Equal(t, logrus.InfoLevel, prod.GetLevel())

	dev := New(&config.Config{Env: "development"})
	_, isText := dev.Formatter.(*logrus.TextFormatter)
	assert.True(t, isText)
	assert.Equal(t, logrus.DebugLevel, dev.GetLevel())
}

func TestRequestLoggerRecordsStatusAndUser(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	app := fiber.New()
	app.Use(RequestLogger(log, func(c *fiber.Ctx) (uint, bool) { return 42, true }))
	app.Get("/boom", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "missing")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, fiber.StatusNotFound, entry.Data["status"])
	assert.Equal(t, uint(42), entry.Data["user_id"])
	assert.Equal(t, "/boom", entry.Data["path"])
}

func TestCtxLoggerCarriesRequestFields(t *testing.T) {
	log, hook := test.NewNullLogger()

	app := fiber.New()
	app.Get("/outside", func(c *fiber.Ctx) error {
		assert.Equal(t, logrus.StandardLogger(), Ctx(c))
		return nil
	})
	app.Use(RequestLogger(log, nil))
	app.Get("/inside", func(c *fiber.Ctx) error {
		Ctx(c).Warn("side effect failed")
		return nil
	})

	_, err := app.Test(httptest.NewRequest("GET", "/outside", nil), -1)
	require.NoError(t, err)
	_, err = app.Test(httptest.NewRequest("GET", "/inside", nil), -1)
	require.NoError(t, err)

	var warned *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = e
		}
	}
	require.NotNil(t, warned)
	assert.Equal(t, "side effect failed", warned.Message)
	assert.Equal(t, "/inside", warned.Data["path"])
}

func TestErrorHandlerHidesUnexpectedErrors(t *testing.T) {
	log, hook := test.NewNullLogger()
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(log)})
	app.Get("/known", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusConflict, "already exists")
	})
	app.Get("/unknown", func(c *fiber.Ctx) error {
		return errors.New("pq: connection reset")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/known", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"error":"already exists"}`, string(body))
	assert.Empty(t, hook.AllEntries())

	resp, err = app.Test(httptest.NewRequest("GET", "/unknown", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	body, _ = io.ReadAll(resp.Body)
	assert.NotContains(t, string(body), "pq:")
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}
