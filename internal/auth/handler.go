package auth

import (
	"errors"
	"strings"
	"time"

	"delivery-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type HandlerConfig struct {
	SecureCookie  bool
	LoginPath     string
	LandingPath   string
	PublicBaseURL string
	// ExposeResetLinks logs reset links instead of mailing them (development).
	ExposeResetLinks bool
	Log              logrus.FieldLogger
}

type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type ForgotRequest struct {
	Email string `json:"email" form:"email"`
}

type ResetRequest struct {
	Password        string `json:"password" form:"password"`
	ConfirmPassword string `json:"confirm_password" form:"confirm_password"`
}

type RevokeRequest struct {
	SessionID string `json:"session_id" form:"session_id"`
}

type ProfileResponse struct {
	ID             uint            `json:"id"`
	Email          string          `json:"email"`
	FirstName      string          `json:"first_name"`
	LastName       string          `json:"last_name"`
	Role           models.UserRole `json:"role"`
	OrganizationID *uint           `json:"organization_id"`
	IsActive       bool            `json:"is_active"`
	LastLoginAt    *string         `json:"last_login_at"`
}

type SessionResponse struct {
	ID         string `json:"id"`
	IP         string `json:"ip"`
	UserAgent  string `json:"user_agent"`
	CreatedAt  string `json:"created_at"`
	LastSeenAt string `json:"last_seen_at"`
	ExpiresAt  string `json:"expires_at"`
	Current    bool   `json:"current"`
}

const forgotPasswordMessage = "If an account exists for that email, a password reset link has been sent."

func Profile(u *models.User) ProfileResponse {
	resp := ProfileResponse{
		ID:             u.ID,
		Email:          u.Email,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Role:           u.Role,
		OrganizationID: u.OrganizationID,
		IsActive:       u.IsActive,
	}
	if u.LastLoginAt != nil {
		s := u.LastLoginAt.Format(time.RFC3339)
		resp.LastLoginAt = &s
	}
	return resp
}

func requestMeta(c *fiber.Ctx) RequestMeta {
	return RequestMeta{IP: c.IP(), UserAgent: c.Get(fiber.HeaderUserAgent)}
}

// wantsJSON separates API callers from plain HTML form posts, which get
// redirects instead of bodies.
func wantsJSON(c *fiber.Ctx) bool {
	ct := strings.ToLower(c.Get(fiber.HeaderContentType))
	if strings.HasPrefix(ct, fiber.MIMEApplicationJSON) {
		return true
	}
	return strings.Contains(strings.ToLower(c.Get(fiber.HeaderAccept)), fiber.MIMEApplicationJSON)
}

// ErrorResponse translates service errors to HTTP responses. Errors it does
// not recognise are returned unchanged for the central error handler.
func ErrorResponse(c *fiber.Ctx, err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		body := fiber.Map{"error": ve.Message}
		if len(ve.Fields) > 0 {
			body["fields"] = ve.Fields
		}
		return c.Status(fiber.StatusBadRequest).JSON(body)
	case errors.Is(err, ErrInvalidCredentials):
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, ErrAccountDisabled):
		return fiber.NewError(fiber.StatusForbidden, "Your account has been deactivated. Please contact your administrator.")
	case errors.Is(err, ErrTooManyAttempts):
		return fiber.NewError(fiber.StatusTooManyRequests, "Too many failed login attempts. Please try again in 15 minutes.")
	case errors.Is(err, ErrEmailTaken):
		return fiber.NewError(fiber.StatusConflict, "An account with this email already exists")
	case errors.Is(err, ErrInvalidResetToken):
		return fiber.NewError(fiber.StatusBadRequest, "This password reset link is invalid or has expired")
	}
	return err
}

func startSession(c *fiber.Ctx, svc *Service, user *models.User, hc HandlerConfig) error {
	sess, err := svc.CreateSession(c.UserContext(), user.ID, requestMeta(c))
	if err != nil {
		return err
	}
	setSessionCookie(c, svc.CookieName(), sess.ID, svc.SessionTTL(), sess.ExpiresAt, hc.SecureCookie)
	c.Locals(CtxUserKey, user)
	c.Locals(CtxSessionKey, sess)
	return nil
}

// POST /auth/login
func LoginHandler(svc *Service, hc HandlerConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body LoginRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		user, err := svc.Authenticate(c.UserContext(), body.Email, body.Password, requestMeta(c))
		if err != nil {
			return ErrorResponse(c, err)
		}
		if err := startSession(c, svc, user, hc); err != nil {
			return err
		}

		if wantsJSON(c) {
			return c.JSON(fiber.Map{"user": Profile(user)})
		}
		return c.Redirect(hc.LandingPath, fiber.StatusSeeOther)
	}
}

// POST /auth/register
func RegisterHandler(svc *Service, hc HandlerConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body RegisterInput
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		user, err := svc.Register(c.UserContext(), body)
		if err != nil {
			return ErrorResponse(c, err)
		}
		if err := startSession(c, svc, user, hc); err != nil {
			return err
		}

		if wantsJSON(c) {
			return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": Profile(user)})
		}
		return c.Redirect(hc.LandingPath, fiber.StatusSeeOther)
	}
}

// POST /auth/logout
func LogoutHandler(svc *Service, hc HandlerConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if sid := c.Cookies(svc.CookieName()); sid != "" {
			if err := svc.DeleteSession(c.UserContext(), sid); err != nil {
				hc.Log.WithError(err).Warn("could not delete session on logout")
			}
		}
		clearSessionCookie(c, svc.CookieName(), hc.SecureCookie)

		if wantsJSON(c) {
			return c.JSON(fiber.Map{"ok": true})
		}
		return c.Redirect(hc.LoginPath, fiber.StatusSeeOther)
	}
}

// POST /auth/forgot
func ForgotPasswordHandler(svc *Service, hc HandlerConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body ForgotRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		raw, err := svc.RequestPasswordReset(c.UserContext(), body.Email, requestMeta(c))
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return ErrorResponse(c, err)
			}
			// Same answer as success so the endpoint does not reveal accounts.
			hc.Log.WithError(err).Error("password reset request failed")
		}
		if raw != "" && hc.ExposeResetLinks {
			hc.Log.WithField("link", hc.PublicBaseURL+"/auth/reset/"+raw).Info("password reset link issued")
		}

		return c.JSON(fiber.Map{"message": forgotPasswordMessage})
	}
}

// GET /auth/reset/:token
func ResetTokenStatusHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		t, err := svc.ValidatePasswordResetToken(c.UserContext(), c.Params("token"))
		if err != nil {
			return err
		}
		if t == nil {
			return ErrorResponse(c, ErrInvalidResetToken)
		}
		return c.JSON(fiber.Map{
			"valid":      true,
			"expires_at": t.ExpiresAt.Format(time.RFC3339),
		})
	}
}

// POST /auth/reset/:token
func ResetPasswordHandler(svc *Service, hc HandlerConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body ResetRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		userID, err := svc.ResetPasswordWithToken(c.UserContext(), c.Params("token"), body.Password, body.ConfirmPassword)
		if err != nil {
			return ErrorResponse(c, err)
		}

		user, err := svc.User(c.UserContext(), userID)
		if err != nil {
			return err
		}
		if err := startSession(c, svc, user, hc); err != nil {
			return err
		}

		if wantsJSON(c) {
			return c.JSON(fiber.Map{"ok": true, "user": Profile(user)})
		}
		return c.Redirect(hc.LandingPath, fiber.StatusSeeOther)
	}
}

// GET /api/me
func MeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := CurrentUser(c)
		if user == nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Authentication required")
		}
		return c.JSON(Profile(user))
	}
}

// GET /api/account/sessions
func ListSessionsHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := CurrentUser(c)
		if user == nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Authentication required")
		}
		sessions, err := svc.ListSessions(c.UserContext(), user.ID)
		if err != nil {
			return err
		}

		var currentID string
		if cur := CurrentSession(c); cur != nil {
			currentID = cur.ID
		}
		resp := make([]SessionResponse, 0, len(sessions))
		for _, s := range sessions {
			resp = append(resp, SessionResponse{
				ID:         s.ID,
				IP:         s.IP,
				UserAgent:  s.UserAgent,
				CreatedAt:  s.CreatedAt.Format(time.RFC3339),
				LastSeenAt: s.LastSeenAt.Format(time.RFC3339),
				ExpiresAt:  s.ExpiresAt.Format(time.RFC3339),
				Current:    s.ID == currentID,
			})
		}
		return c.JSON(resp)
	}
}

// POST /api/account/sessions/revoke
func RevokeSessionHandler(svc *Service, hc HandlerConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := CurrentUser(c)
		if user == nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Authentication required")
		}
		var body RevokeRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		sid := strings.TrimSpace(body.SessionID)
		if sid == "" {
			return fiber.NewError(fiber.StatusBadRequest, "session_id is required")
		}

		ok, err := svc.RevokeSession(c.UserContext(), user.ID, sid)
		if err != nil {
			return err
		}
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "Session not found")
		}
		if cur := CurrentSession(c); cur != nil && cur.ID == sid {
			clearSessionCookie(c, svc.CookieName(), hc.SecureCookie)
		}
		return c.JSON(fiber.Map{"ok": true})
	}
}

// POST /api/account/sessions/revoke-all
func RevokeAllSessionsHandler(svc *Service, hc HandlerConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := CurrentUser(c)
		if user == nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Authentication required")
		}
		n, err := svc.RevokeAllSessions(c.UserContext(), user.ID)
		if err != nil {
			return err
		}
		clearSessionCookie(c, svc.CookieName(), hc.SecureCookie)
		return c.JSON(fiber.Map{"ok": true, "revoked": n})
	}
}
