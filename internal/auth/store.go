package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"delivery-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned by Store lookups that matched no row.
var ErrNotFound = errors.New("not found")

// Store is the persistence the auth service needs. Session lookups must
// filter on expiry themselves; callers never see an expired row.
type Store interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id uint) (*models.User, error)
	TouchLastLogin(ctx context.Context, userID uint, at time.Time) error
	FirstOrganizationID(ctx context.Context) (*uint, error)

	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string, now time.Time) (*models.Session, error)
	ExtendSession(ctx context.Context, id string, expiresAt, seenAt time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteUserSession(ctx context.Context, userID uint, id string) (bool, error)
	DeleteUserSessions(ctx context.Context, userID uint) (int64, error)
	ListUserSessions(ctx context.Context, userID uint, now time.Time) ([]models.Session, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	IssueResetToken(ctx context.Context, t *models.PasswordResetToken, now time.Time) error
	FindResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.PasswordResetToken, error)
	ResetPassword(ctx context.Context, tokenHash, passwordHash string, now time.Time) (uint, error)

	RecordAttempt(ctx context.Context, a *models.AuthAttempt) error
	CountFailedAttempts(ctx context.Context, email, ip string, since time.Time) (int64, error)
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) CreateUser(ctx context.Context, u *models.User) error {
	return s.db.WithContext(ctx).Create(u).Error
}

func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).Take(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *GormStore) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *GormStore) TouchLastLogin(ctx context.Context, userID uint, at time.Time) error {
	return s.db.WithContext(ctx).Exec("UPDATE users SET last_login_at = ? WHERE id = ?", at, userID).Error
}

func (s *GormStore) FirstOrganizationID(ctx context.Context) (*uint, error) {
	var org models.Organization
	err := s.db.WithContext(ctx).Order("id ASC").Take(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &org.ID, nil
}

func (s *GormStore) CreateSession(ctx context.Context, sess *models.Session) error {
	return s.db.WithContext(ctx).Create(sess).Error
}

func (s *GormStore) GetSession(ctx context.Context, id string, now time.Time) (*models.Session, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).
		Where("id = ? AND expires_at > ?", id, now).
		Take(&sess).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &sess, nil
}

func (s *GormStore) ExtendSession(ctx context.Context, id string, expiresAt, seenAt time.Time) error {
	return s.db.WithContext(ctx).
		Exec("UPDATE sessions SET expires_at = ?, last_seen_at = ? WHERE id = ?", expiresAt, seenAt, id).Error
}

func (s *GormStore) DeleteSession(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Exec("DELETE FROM sessions WHERE id = ?", id).Error
}

func (s *GormStore) DeleteUserSession(ctx context.Context, userID uint, id string) (bool, error) {
	res := s.db.WithContext(ctx).Exec("DELETE FROM sessions WHERE id = ? AND user_id = ?", id, userID)
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) DeleteUserSessions(ctx context.Context, userID uint) (int64, error) {
	res := s.db.WithContext(ctx).Exec("DELETE FROM sessions WHERE user_id = ?", userID)
	return res.RowsAffected, res.Error
}

func (s *GormStore) ListUserSessions(ctx context.Context, userID uint, now time.Time) ([]models.Session, error) {
	var out []models.Session
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, now).
		Order("last_seen_at DESC").
		Find(&out).Error
	return out, err
}

func (s *GormStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Exec("DELETE FROM sessions WHERE expires_at <= ?", now)
	return res.RowsAffected, res.Error
}

// IssueResetToken retires every still-usable token of the user before
// inserting the new one.
func (s *GormStore) IssueResetToken(ctx context.Context, t *models.PasswordResetToken, now time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			"UPDATE password_reset_tokens SET used_at = ? WHERE user_id = ? AND used_at IS NULL AND expires_at > ?",
			now, t.UserID, now,
		).Error; err != nil {
			return fmt.Errorf("invalidate previous tokens: %w", err)
		}
		return tx.Create(t).Error
	})
}

func (s *GormStore) FindResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.PasswordResetToken, error) {
	var t models.PasswordResetToken
	err := s.db.WithContext(ctx).
		Where("token_hash = ? AND used_at IS NULL AND expires_at > ?", tokenHash, now).
		Take(&t).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// ResetPassword consumes the token, replaces the password and drops every
// session of the user in one transaction.
func (s *GormStore) ResetPassword(ctx context.Context, tokenHash, passwordHash string, now time.Time) (uint, error) {
	var userID uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.PasswordResetToken
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_hash = ? AND used_at IS NULL AND expires_at > ?", tokenHash, now).
			Take(&t).Error
		if err != nil {
			return notFound(err)
		}
		if err := tx.Exec("UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?", passwordHash, now, t.UserID).Error; err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		if err := tx.Exec("UPDATE password_reset_tokens SET used_at = ? WHERE id = ?", now, t.ID).Error; err != nil {
			return fmt.Errorf("mark token used: %w", err)
		}
		if err := tx.Exec("DELETE FROM sessions WHERE user_id = ?", t.UserID).Error; err != nil {
			return fmt.Errorf("revoke sessions: %w", err)
		}
		userID = t.UserID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return userID, nil
}

func (s *GormStore) RecordAttempt(ctx context.Context, a *models.AuthAttempt) error {
	return s.db.WithContext(ctx).Create(a).Error
}

func (s *GormStore) CountFailedAttempts(ctx context.Context, email, ip string, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.AuthAttempt{}).
		Where("success = ? AND attempted_at > ? AND (email = ? OR ip = ?)", false, since, email, ip).
		Count(&n).Error
	return n, err
}
