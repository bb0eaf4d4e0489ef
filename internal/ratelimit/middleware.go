package ratelimit

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// Allower is satisfied by FixedWindowLimiter.
type Allower interface {
	Allow(ctx context.Context, key string) bool
}

// KeyFunc picks the quota bucket for a request.
type KeyFunc func(c *fiber.Ctx) string

// ByIP buckets requests by client address and route path.
func ByIP(c *fiber.Ctx) string {
	return c.IP() + ":" + c.Path()
}

// Middleware rejects requests over quota with 429. Only POST requests are
// counted; page loads of the same routes pass through.
func Middleware(l Allower, key KeyFunc) fiber.Handler {
	if key == nil {
		key = ByIP
	}
	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}
		if !l.Allow(c.UserContext(), key(c)) {
			return fiber.NewError(fiber.StatusTooManyRequests, "Too many requests")
		}
		return c.Next()
	}
}
