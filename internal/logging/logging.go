package logging

import (
	"os"
	"time"

	"delivery-backend/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// New returns the process logger: JSON at info level in production,
// human-readable text at debug level otherwise.
func New(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if cfg.IsProduction() {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
		log.SetLevel(logrus.InfoLevel)
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

const ctxLoggerKey = "logger"

// Ctx returns the request-scoped logger installed by RequestLogger, or the
// standard logger outside of it.
func Ctx(c *fiber.Ctx) logrus.FieldLogger {
	if l, ok := c.Locals(ctxLoggerKey).(logrus.FieldLogger); ok {
		return l
	}
	return logrus.StandardLogger()
}

// UserIDFunc extracts the authenticated user id from the request, if any.
type UserIDFunc func(c *fiber.Ctx) (uint, bool)

// RequestLogger writes one line per request after the handler chain ran.
func RequestLogger(log logrus.FieldLogger, userID UserIDFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		reqLog := log.WithField("path", c.Path())
		if rid, ok := c.Locals("requestid").(string); ok {
			reqLog = reqLog.WithField("request_id", rid)
		}
		c.Locals(ctxLoggerKey, reqLog)
		err := c.Next()

		status := c.Response().StatusCode()
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		} else if err != nil {
			status = fiber.StatusInternalServerError
		}

		fields := logrus.Fields{
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.IP(),
		}
		if rid, ok := c.Locals("requestid").(string); ok {
			fields["request_id"] = rid
		}
		if userID != nil {
			if id, ok := userID(c); ok {
				fields["user_id"] = id
			}
		}

		entry := log.WithFields(fields)
		switch {
		case status >= 500:
			entry.Error("request failed")
		case status >= 400:
			entry.Info("request rejected")
		default:
			entry.Debug("request served")
		}
		return err
	}
}

// ErrorHandler renders every handler error as {"error": message}. Anything
// that is not a *fiber.Error is logged and hidden behind a generic 500.
func ErrorHandler(log logrus.FieldLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		if e, ok := err.(*fiber.Error); ok {
			return c.Status(e.Code).JSON(fiber.Map{"error": e.Message})
		}
		log.WithError(err).WithField("path", c.Path()).Error("unexpected error")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unexpected server error",
		})
	}
}
