package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"delivery-backend/internal/models"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *memStore, *fakeClock) {
	t.Helper()
	store := newMemStore()
	clock := newFakeClock()
	log, _ := test.NewNullLogger()
	svc := NewService(store, Options{
		SessionTTL: 30 * 24 * time.Hour,
		ResetTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
		Now:        clock.Now,
	}, log)
	return svc, store, clock
}

func addUser(t *testing.T, store *memStore, email, password string, active bool) *models.User {
	t.Helper()
	hash, err := HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	u := &models.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "Driver",
		Role:         models.RoleDriver,
		IsActive:     active,
	}
	require.NoError(t, store.CreateUser(context.Background(), u))
	return u
}

func TestCreateAndGetSession(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()
	user := addUser(t, store, "a@example.com", "secret123", true)

	sess, err := svc.CreateSession(ctx, user.ID, RequestMeta{IP: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)
	assert.Len(t, sess.ID, 36)
	assert.Equal(t, clock.Now().Add(30*24*time.Hour), sess.ExpiresAt)

	got, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.UserID)
	assert.Equal(t, "10.0.0.1", got.IP)

	other, err := svc.CreateSession(ctx, user.ID, RequestMeta{})
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, other.ID)
}

func TestGetSessionIgnoresExpiredRows(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()
	user := addUser(t, store, "a@example.com", "secret123", true)

	sess, err := svc.CreateSession(ctx, user.ID, RequestMeta{})
	require.NoError(t, err)

	clock.Advance(30 * 24 * time.Hour) // expiry == now is not valid
	got, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 1, store.sessionCount(), "row still exists until cleanup")
}

func TestGetSessionMalformedIDSkipsStore(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.lookupErr = errors.New("should not be called")

	for _, id := range []string{"", "not-a-uuid", "'; DROP TABLE sessions; --"} {
		got, err := svc.GetSession(context.Background(), id)
		assert.NoError(t, err)
		assert.Nil(t, got)
	}
	assert.Equal(t, 0, store.lookupCount())
}

func TestUpdateSessionActivitySlidesExpiry(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()
	user := addUser(t, store, "a@example.com", "secret123", true)

	sess, err := svc.CreateSession(ctx, user.ID, RequestMeta{})
	require.NoError(t, err)
	original := sess.ExpiresAt

	clock.Advance(10 * 24 * time.Hour)
	expires, err := svc.UpdateSessionActivity(ctx, sess.ID)
	require.NoError(t, err)

	got, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.WithinDuration(t, clock.Now().Add(30*24*time.Hour), got.ExpiresAt, time.Second)
	assert.Equal(t, expires, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.After(original))
	assert.Equal(t, clock.Now(), got.LastSeenAt)
}

func TestRevokeSessionIsScopedToOwner(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	alice := addUser(t, store, "alice@example.com", "secret123", true)
	bob := addUser(t, store, "bob@example.com", "secret123", true)

	aliceSess, err := svc.CreateSession(ctx, alice.ID, RequestMeta{})
	require.NoError(t, err)

	ok, err := svc.RevokeSession(ctx, bob.ID, aliceSess.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	got, _ := svc.GetSession(ctx, aliceSess.ID)
	assert.NotNil(t, got)

	ok, err = svc.RevokeSession(ctx, alice.ID, aliceSess.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	got, _ = svc.GetSession(ctx, aliceSess.ID)
	assert.Nil(t, got)
}

func TestRevokeAllAndCleanExpired(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()
	alice := addUser(t, store, "alice@example.com", "secret123", true)
	bob := addUser(t, store, "bob@example.com", "secret123", true)

	for i := 0; i < 3; i++ {
		_, err := svc.CreateSession(ctx, alice.ID, RequestMeta{})
		require.NoError(t, err)
	}
	_, err := svc.CreateSession(ctx, bob.ID, RequestMeta{})
	require.NoError(t, err)

	n, err := svc.RevokeAllSessions(ctx, alice.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, 1, store.sessionCount())

	clock.Advance(31 * 24 * time.Hour)
	cleaned, err := svc.CleanExpiredSessions(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cleaned)
	assert.Equal(t, 0, store.sessionCount())
}

func TestResolve(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	active := addUser(t, store, "on@example.com", "secret123", true)
	inactive := addUser(t, store, "off@example.com", "secret123", false)

	s1, _ := svc.CreateSession(ctx, active.ID, RequestMeta{})
	s2, _ := svc.CreateSession(ctx, inactive.ID, RequestMeta{})

	ident, err := svc.Resolve(ctx, s1.ID)
	require.NoError(t, err)
	require.NotNil(t, ident)
	assert.Equal(t, active.ID, ident.User.ID)

	ident, err = svc.Resolve(ctx, s2.ID)
	require.NoError(t, err)
	assert.Nil(t, ident)

	store.lookupErr = errors.New("connection refused")
	ident, err = svc.Resolve(ctx, s1.ID)
	assert.Error(t, err)
	assert.Nil(t, ident)
}

func TestAuthenticate(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	addUser(t, store, "driver@example.com", "secret123", true)
	addUser(t, store, "gone@example.com", "secret123", false)

	user, err := svc.Authenticate(ctx, "  Driver@Example.com ", "secret123", RequestMeta{IP: "1.1.1.1"})
	require.NoError(t, err)
	assert.Equal(t, "driver@example.com", user.Email)
	assert.NotNil(t, user.LastLoginAt)

	_, err = svc.Authenticate(ctx, "driver@example.com", "wrong", RequestMeta{IP: "1.1.1.2"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody@example.com", "secret123", RequestMeta{IP: "1.1.1.3"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "gone@example.com", "secret123", RequestMeta{IP: "1.1.1.4"})
	assert.ErrorIs(t, err, ErrAccountDisabled)

	var ve *ValidationError
	_, err = svc.Authenticate(ctx, "", "", RequestMeta{})
	assert.ErrorAs(t, err, &ve)
}

func TestAuthenticateThrottlesAfterFiveFailures(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()
	addUser(t, store, "driver@example.com", "secret123", true)

	for i := 0; i < 5; i++ {
		_, err := svc.Authenticate(ctx, "driver@example.com", "nope", RequestMeta{IP: "9.9.9.9"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := svc.Authenticate(ctx, "driver@example.com", "secret123", RequestMeta{IP: "8.8.8.8"})
	assert.ErrorIs(t, err, ErrTooManyAttempts, "correct password is still throttled")

	clock.Advance(16 * time.Minute)
	_, err = svc.Authenticate(ctx, "driver@example.com", "secret123", RequestMeta{IP: "8.8.8.8"})
	assert.NoError(t, err)
}

func TestRegister(t *testing.T) {
	svc, store, _ := newTestService(t)
	org := uint(3)
	store.orgID = &org
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{
		Email:           "New@Example.com",
		FirstName:       "Nia",
		LastName:        "Byrne",
		Password:        "parcel2024",
		ConfirmPassword: "parcel2024",
	})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
	assert.Equal(t, models.RoleDriver, user.Role)
	assert.True(t, user.IsActive)
	assert.Equal(t, &org, user.OrganizationID)
	assert.True(t, CheckPassword(user.PasswordHash, "parcel2024"))

	_, err = svc.Register(ctx, RegisterInput{
		Email: "new@example.com", FirstName: "A", LastName: "B",
		Password: "parcel2024", ConfirmPassword: "parcel2024",
	})
	assert.ErrorIs(t, err, ErrEmailTaken)

	var ve *ValidationError
	_, err = svc.Register(ctx, RegisterInput{
		Email: "x@example.com", FirstName: "A", LastName: "B",
		Password: "lettersonly", ConfirmPassword: "lettersonly",
	})
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "password")

	_, err = svc.Register(ctx, RegisterInput{
		Email: "y@example.com", FirstName: "A", LastName: "B",
		Password: "parcel2024", ConfirmPassword: "parcel2025",
	})
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "confirm_password")
}

func TestEnsureSuperAdmin(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.EnsureSuperAdmin(ctx, " Root@Example.com ", "bootstrap1")
	require.NoError(t, err)
	assert.True(t, created)

	user, err := store.GetUserByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.RoleSuperAdmin, user.Role)
	assert.Nil(t, user.OrganizationID)
	assert.True(t, user.IsActive)
	assert.True(t, CheckPassword(user.PasswordHash, "bootstrap1"))

	created, err = svc.EnsureSuperAdmin(ctx, "root@example.com", "different9")
	require.NoError(t, err)
	assert.False(t, created, "an existing account is left alone")
	assert.Len(t, store.users, 1)

	var ve *ValidationError
	_, err = svc.EnsureSuperAdmin(ctx, "other@example.com", "short")
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "password")
}

func TestPasswordResetFlow(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	user := addUser(t, store, "driver@example.com", "secret123", true)
	_, err := svc.CreateSession(ctx, user.ID, RequestMeta{})
	require.NoError(t, err)

	raw, err := svc.RequestPasswordReset(ctx, "driver@example.com", RequestMeta{})
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	tok, err := svc.ValidatePasswordResetToken(ctx, raw)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.NotEqual(t, raw, tok.TokenHash, "only the hash is stored")

	userID, err := svc.ResetPasswordWithToken(ctx, raw, "a much longer pass", "a much longer pass")
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)
	assert.Equal(t, 0, store.sessionCount(), "all sessions revoked")

	tok, err = svc.ValidatePasswordResetToken(ctx, raw)
	require.NoError(t, err)
	assert.Nil(t, tok, "token is single use")

	_, err = svc.ResetPasswordWithToken(ctx, raw, "a much longer pass", "a much longer pass")
	assert.ErrorIs(t, err, ErrInvalidResetToken)

	_, err = svc.Authenticate(ctx, "driver@example.com", "a much longer pass", RequestMeta{IP: "2.2.2.2"})
	assert.NoError(t, err)
}

func TestIssueTokenInvalidatesPrevious(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()
	user := addUser(t, store, "driver@example.com", "secret123", true)

	first, err := svc.IssuePasswordResetToken(ctx, user.ID, RequestMeta{})
	require.NoError(t, err)
	second, err := svc.IssuePasswordResetToken(ctx, user.ID, RequestMeta{})
	require.NoError(t, err)

	tok, _ := svc.ValidatePasswordResetToken(ctx, first)
	assert.Nil(t, tok)
	tok, _ = svc.ValidatePasswordResetToken(ctx, second)
	assert.NotNil(t, tok)

	clock.Advance(61 * time.Minute)
	tok, _ = svc.ValidatePasswordResetToken(ctx, second)
	assert.Nil(t, tok, "expired after the reset TTL")
}

func TestResetPasswordFailureLeavesStateUntouched(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	user := addUser(t, store, "driver@example.com", "secret123", true)
	_, err := svc.CreateSession(ctx, user.ID, RequestMeta{})
	require.NoError(t, err)

	raw, err := svc.IssuePasswordResetToken(ctx, user.ID, RequestMeta{})
	require.NoError(t, err)

	store.resetErr = errors.New("disk full")
	_, err = svc.ResetPasswordWithToken(ctx, raw, "a much longer pass", "a much longer pass")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidResetToken)

	assert.Equal(t, 1, store.sessionCount())
	tok, _ := svc.ValidatePasswordResetToken(ctx, raw)
	assert.NotNil(t, tok)
}

func TestResetPasswordPolicy(t *testing.T) {
	svc, _, _ := newTestService(t)
	var ve *ValidationError

	_, err := svc.ResetPasswordWithToken(context.Background(), "whatever", "short", "short")
	require.ErrorAs(t, err, &ve)

	_, err = svc.ResetPasswordWithToken(context.Background(), "whatever", "long enough pass", "long enough pasS")
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "Passwords do not match", ve.Message)
}

func TestRequestPasswordResetUnknownOrInactive(t *testing.T) {
	svc, store, _ := newTestService(t)
	addUser(t, store, "off@example.com", "secret123", false)

	raw, err := svc.RequestPasswordReset(context.Background(), "missing@example.com", RequestMeta{})
	require.NoError(t, err)
	assert.Empty(t, raw)

	raw, err = svc.RequestPasswordReset(context.Background(), "off@example.com", RequestMeta{})
	require.NoError(t, err)
	assert.Empty(t, raw)
}
