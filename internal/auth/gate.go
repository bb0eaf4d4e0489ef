package auth

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// LookupPolicy decides what a failed session lookup means for the request.
type LookupPolicy int

const (
	// FailOpen serves the request anonymously when the lookup errors or
	// misses its deadline. Used for public routes.
	FailOpen LookupPolicy = iota
	// FailClosed treats a failed lookup as unauthenticated, which denies
	// access. Used for protected routes.
	FailClosed
)

func (p LookupPolicy) String() string {
	if p == FailOpen {
		return "fail_open"
	}
	return "fail_closed"
}

var errLookupDeadline = errors.New("session lookup deadline exceeded")

// Triggerer starts background session cleanup without waiting for it.
type Triggerer interface {
	Trigger()
}

type GateConfig struct {
	PublicPaths    []string
	PublicPrefixes []string
	LoginPath      string
	LandingPath    string
	// APIPrefix paths get a 401 JSON body instead of a login redirect.
	APIPrefix string

	// PublicLookupTimeout bounds session validation on public routes;
	// zero disables the deadline.
	PublicLookupTimeout time.Duration
	SecureCookie        bool

	CleanupProbability float64
	Janitor            Triggerer
	Rand               func() float64

	Log logrus.FieldLogger
}

func DefaultGateConfig() GateConfig {
	return GateConfig{
		PublicPaths:         []string{"/", "/health", "/metrics", "/auth/login", "/auth/register", "/auth/forgot"},
		PublicPrefixes:      []string{"/auth/reset/", "/invoice/shared/"},
		LoginPath:           "/auth/login",
		LandingPath:         "/dashboard",
		APIPrefix:           "/api/",
		PublicLookupTimeout: 150 * time.Millisecond,
		CleanupProbability:  0.01,
	}
}

func (g GateConfig) isPublic(path string) bool {
	for _, p := range g.PublicPaths {
		if path == p {
			return true
		}
	}
	for _, p := range g.PublicPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

type lookupOutcome int

const (
	outcomeValid lookupOutcome = iota
	outcomeInvalid
	outcomeUnavailable
)

// Gate resolves the session cookie on every request and enforces access to
// protected routes. Path classification happens before any I/O so anonymous
// traffic on public routes never reaches the database.
func Gate(svc *Service, cfg GateConfig) fiber.Handler {
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	cookieName := svc.CookieName()

	return func(c *fiber.Ctx) error {
		path := c.Path()
		public := cfg.isPublic(path)
		defer cfg.maybeCleanup()

		sid := c.Cookies(cookieName)
		if public && sid == "" {
			return c.Next()
		}

		var ident *Identity
		if sid != "" {
			policy := FailClosed
			if public {
				policy = FailOpen
			}
			var outcome lookupOutcome
			ident, outcome = cfg.lookup(c.UserContext(), svc, strings.Clone(sid), policy)

			switch outcome {
			case outcomeInvalid:
				clearSessionCookie(c, cookieName, cfg.SecureCookie)
			case outcomeValid:
				c.Locals(CtxUserKey, ident.User)
				c.Locals(CtxSessionKey, ident.Session)
				if !public {
					refreshSession(c, svc, ident, cfg)
				}
			}
		}

		if !public && ident == nil {
			if cfg.APIPrefix != "" && strings.HasPrefix(path, cfg.APIPrefix) {
				return fiber.NewError(fiber.StatusUnauthorized, "Authentication required")
			}
			return c.Redirect(cfg.LoginPath, fiber.StatusSeeOther)
		}
		if ident != nil && path == cfg.LoginPath {
			return c.Redirect(cfg.LandingPath, fiber.StatusSeeOther)
		}
		return c.Next()
	}
}

func (g GateConfig) lookup(ctx context.Context, svc *Service, sid string, policy LookupPolicy) (*Identity, lookupOutcome) {
	var (
		ident *Identity
		err   error
	)
	if policy == FailOpen && g.PublicLookupTimeout > 0 {
		ident, err = resolveWithDeadline(ctx, svc, sid, g.PublicLookupTimeout)
	} else {
		ident, err = svc.Resolve(ctx, sid)
	}

	if err != nil {
		entry := g.Log.WithError(err).WithField("policy", policy.String())
		if errors.Is(err, errLookupDeadline) {
			entry.Debug("session lookup timed out, continuing anonymously")
		} else {
			entry.Warn("session lookup failed")
		}
		return nil, outcomeUnavailable
	}
	if ident == nil {
		return nil, outcomeInvalid
	}
	return ident, outcomeValid
}

// resolveWithDeadline races the lookup against a timer. The lookup keeps
// running after a timeout; its result is dropped.
func resolveWithDeadline(parent context.Context, svc *Service, sid string, timeout time.Duration) (*Identity, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	type result struct {
		ident *Identity
		err   error
	}
	done := make(chan result, 1)
	go func() {
		ident, err := svc.Resolve(ctx, sid)
		done <- result{ident, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return nil, errLookupDeadline
		}
		return r.ident, r.err
	case <-timer.C:
		return nil, errLookupDeadline
	}
}

func refreshSession(c *fiber.Ctx, svc *Service, ident *Identity, cfg GateConfig) {
	expires, err := svc.UpdateSessionActivity(c.UserContext(), ident.Session.ID)
	if err != nil {
		cfg.Log.WithError(err).WithField("user_id", ident.User.ID).Warn("could not extend session")
		return
	}
	ident.Session.ExpiresAt = expires
	setSessionCookie(c, svc.CookieName(), ident.Session.ID, svc.SessionTTL(), expires, cfg.SecureCookie)
}

func (g GateConfig) maybeCleanup() {
	if g.Janitor == nil || g.CleanupProbability <= 0 {
		return
	}
	if g.Rand() < g.CleanupProbability {
		g.Janitor.Trigger()
	}
}

func setSessionCookie(c *fiber.Ctx, name, value string, ttl time.Duration, expires time.Time, secure bool) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		Expires:  expires,
		HTTPOnly: true,
		Secure:   secure,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

func clearSessionCookie(c *fiber.Ctx, name string, secure bool) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   secure,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}
