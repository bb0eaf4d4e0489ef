package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"delivery-backend/internal/metrics"
	"delivery-backend/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDisabled    = errors.New("account deactivated")
	ErrTooManyAttempts    = errors.New("too many failed login attempts")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidResetToken  = errors.New("reset token invalid or expired")
)

// ValidationError carries a user-facing message and optional per-field details.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string { return e.Message }

type Options struct {
	CookieName        string
	SessionTTL        time.Duration
	ResetTTL          time.Duration
	BcryptCost        int
	MaxFailedAttempts int
	AttemptWindow     time.Duration
	Now               func() time.Time
}

// RequestMeta is the client information stored alongside sessions,
// reset tokens and login attempts.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Identity is what the gate attaches to an authenticated request.
type Identity struct {
	User    *models.User
	Session *models.Session
}

type Service struct {
	store Store
	opts  Options
	log   logrus.FieldLogger
}

func NewService(store Store, opts Options, log logrus.FieldLogger) *Service {
	if opts.CookieName == "" {
		opts.CookieName = "session_id"
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * 24 * time.Hour
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = 60 * time.Minute
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = 12
	}
	if opts.MaxFailedAttempts <= 0 {
		opts.MaxFailedAttempts = 5
	}
	if opts.AttemptWindow <= 0 {
		opts.AttemptWindow = 15 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: store, opts: opts, log: log}
}

func (s *Service) CookieName() string        { return s.opts.CookieName }
func (s *Service) SessionTTL() time.Duration { return s.opts.SessionTTL }
func (s *Service) now() time.Time            { return s.opts.Now() }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validSessionID rejects anything that could not have been issued by
// CreateSession without touching the database.
func validSessionID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// ---- sessions ----

func (s *Service) CreateSession(ctx context.Context, userID uint, meta RequestMeta) (*models.Session, error) {
	now := s.now()
	sess := &models.Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		ExpiresAt:  now.Add(s.opts.SessionTTL),
		IP:         truncate(meta.IP, 64),
		UserAgent:  truncate(meta.UserAgent, 512),
		LastSeenAt: now,
		CreatedAt:  now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// GetSession returns nil for malformed, unknown and expired ids alike.
func (s *Service) GetSession(ctx context.Context, id string) (*models.Session, error) {
	if !validSessionID(id) {
		return nil, nil
	}
	sess, err := s.store.GetSession(ctx, id, s.now())
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// UpdateSessionActivity slides the expiry to now+TTL and returns it.
func (s *Service) UpdateSessionActivity(ctx context.Context, id string) (time.Time, error) {
	now := s.now()
	expires := now.Add(s.opts.SessionTTL)
	if err := s.store.ExtendSession(ctx, id, expires, now); err != nil {
		return time.Time{}, fmt.Errorf("extend session: %w", err)
	}
	return expires, nil
}

func (s *Service) DeleteSession(ctx context.Context, id string) error {
	if !validSessionID(id) {
		return nil
	}
	return s.store.DeleteSession(ctx, id)
}

// RevokeSession only removes the session when it belongs to userID.
func (s *Service) RevokeSession(ctx context.Context, userID uint, id string) (bool, error) {
	if !validSessionID(id) {
		return false, nil
	}
	return s.store.DeleteUserSession(ctx, userID, id)
}

func (s *Service) RevokeAllSessions(ctx context.Context, userID uint) (int64, error) {
	return s.store.DeleteUserSessions(ctx, userID)
}

func (s *Service) ListSessions(ctx context.Context, userID uint) ([]models.Session, error) {
	return s.store.ListUserSessions(ctx, userID, s.now())
}

func (s *Service) User(ctx context.Context, id uint) (*models.User, error) {
	return s.store.GetUserByID(ctx, id)
}

func (s *Service) CleanExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("clean expired sessions: %w", err)
	}
	metrics.SessionsCleaned(n)
	return n, nil
}

// Resolve maps a cookie value to an active user. A nil identity with a nil
// error means "anonymous"; an error means the lookup itself failed.
func (s *Service) Resolve(ctx context.Context, sessionID string) (*Identity, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil || sess == nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session user: %w", err)
	}
	if !user.IsActive {
		return nil, nil
	}
	return &Identity{User: user, Session: sess}, nil
}

// ---- login / registration ----

func (s *Service) Authenticate(ctx context.Context, email, password string, meta RequestMeta) (*models.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, &ValidationError{Message: "Email and password are required"}
	}

	now := s.now()
	failed, err := s.store.CountFailedAttempts(ctx, email, meta.IP, now.Add(-s.opts.AttemptWindow))
	if err != nil {
		return nil, fmt.Errorf("count login attempts: %w", err)
	}
	if failed >= int64(s.opts.MaxFailedAttempts) {
		metrics.ObserveLogin("throttled")
		return nil, ErrTooManyAttempts
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.recordAttempt(ctx, email, meta, false)
		metrics.ObserveLogin("invalid")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	if !CheckPassword(user.PasswordHash, password) {
		s.recordAttempt(ctx, email, meta, false)
		metrics.ObserveLogin("invalid")
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		s.recordAttempt(ctx, email, meta, false)
		metrics.ObserveLogin("disabled")
		return nil, ErrAccountDisabled
	}

	s.recordAttempt(ctx, email, meta, true)
	if err := s.store.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.log.WithError(err).WithField("user_id", user.ID).Warn("could not update last login")
	}
	user.LastLoginAt = &now
	metrics.ObserveLogin("success")
	return user, nil
}

func (s *Service) recordAttempt(ctx context.Context, email string, meta RequestMeta, ok bool) {
	a := &models.AuthAttempt{Email: email, IP: truncate(meta.IP, 64), Success: ok, AttemptedAt: s.now()}
	if err := s.store.RecordAttempt(ctx, a); err != nil {
		s.log.WithError(err).Warn("could not record login attempt")
	}
}

type RegisterInput struct {
	Email           string `json:"email" form:"email"`
	FirstName       string `json:"first_name" form:"first_name"`
	LastName        string `json:"last_name" form:"last_name"`
	Password        string `json:"password" form:"password"`
	ConfirmPassword string `json:"confirm_password" form:"confirm_password"`
}

// Register creates an active driver in the first organization.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Email = normalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	fields := map[string]string{}
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		fields["email"] = "A valid email is required"
	}
	if in.FirstName == "" {
		fields["first_name"] = "First name is required"
	}
	if in.LastName == "" {
		fields["last_name"] = "Last name is required"
	}
	if msg := registrationPasswordProblem(in.Password); msg != "" {
		fields["password"] = msg
	} else if in.Password != in.ConfirmPassword {
		fields["confirm_password"] = "Passwords do not match"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Message: "Please correct the highlighted fields", Fields: fields}
	}

	if _, err := s.store.GetUserByEmail(ctx, in.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("check email: %w", err)
	}

	hash, err := HashPassword(in.Password, s.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	orgID, err := s.store.FirstOrganizationID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve organization: %w", err)
	}

	user := &models.User{
		OrganizationID: orgID,
		Email:          in.Email,
		PasswordHash:   hash,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		Role:           models.RoleDriver,
		IsActive:       true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// EnsureSuperAdmin creates an active super admin for email unless a user
// with that email already exists. It reports whether a user was created.
func (s *Service) EnsureSuperAdmin(ctx context.Context, email, password string) (bool, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return false, &ValidationError{Message: "A valid email is required", Fields: map[string]string{"email": "A valid email is required"}}
	}
	if msg := PasswordProblem(password); msg != "" {
		return false, &ValidationError{Message: msg, Fields: map[string]string{"password": msg}}
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("check email: %w", err)
	}

	hash, err := HashPassword(password, s.opts.BcryptCost)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Super",
		LastName:     "Admin",
		Role:         models.RoleSuperAdmin,
		IsActive:     true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return false, fmt.Errorf("create super admin: %w", err)
	}
	s.log.WithField("user_id", user.ID).Info("bootstrap super admin created")
	return true, nil
}

// ---- password reset ----

// IssuePasswordResetToken retires older usable tokens and returns the raw
// value of the new one.
func (s *Service) IssuePasswordResetToken(ctx context.Context, userID uint, meta RequestMeta) (string, error) {
	raw, hash, err := newResetToken()
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	now := s.now()
	t := &models.PasswordResetToken{
		UserID:    userID,
		TokenHash: hash,
		ExpiresAt: now.Add(s.opts.ResetTTL),
		IP:        truncate(meta.IP, 64),
		UserAgent: truncate(meta.UserAgent, 512),
		CreatedAt: now,
	}
	if err := s.store.IssueResetToken(ctx, t, now); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}
	return raw, nil
}

// RequestPasswordReset issues a token for an existing active account and
// returns "" otherwise. Callers must answer identically in both cases.
func (s *Service) RequestPasswordReset(ctx context.Context, email string, meta RequestMeta) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", &ValidationError{Message: "Email is required"}
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return "", nil
	}
	return s.IssuePasswordResetToken(ctx, user.ID, meta)
}

// ValidatePasswordResetToken returns nil for unknown, used or expired tokens.
func (s *Service) ValidatePasswordResetToken(ctx context.Context, raw string) (*models.PasswordResetToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := s.store.FindResetToken(ctx, hashToken(raw), s.now())
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find reset token: %w", err)
	}
	return t, nil
}

// ResetPasswordWithToken replaces the password, consumes the token and
// revokes every session of the user atomically.
func (s *Service) ResetPasswordWithToken(ctx context.Context, raw, password, confirm string) (uint, error) {
	if msg := resetPasswordProblem(password, confirm); msg != "" {
		return 0, &ValidationError{Message: msg, Fields: map[string]string{"password": msg}}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidResetToken
	}
	hash, err := HashPassword(password, s.opts.BcryptCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	userID, err := s.store.ResetPassword(ctx, hashToken(raw), hash, s.now())
	if errors.Is(err, ErrNotFound) {
		return 0, ErrInvalidResetToken
	}
	if err != nil {
		return 0, fmt.Errorf("reset password: %w", err)
	}
	return userID, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
