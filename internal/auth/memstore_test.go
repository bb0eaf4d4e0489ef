package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"delivery-backend/internal/models"
)

// memStore is an in-memory Store for service and handler tests.
type memStore struct {
	mu        sync.Mutex
	users     map[uint]*models.User
	sessions  map[string]*models.Session
	tokens    []*models.PasswordResetToken
	attempts  []models.AuthAttempt
	nextID    uint
	orgID     *uint
	extendErr error

	// lookupErr/lookupDelay affect GetSession only.
	lookupErr   error
	lookupDelay time.Duration
	lookups     int

	// resetErr makes ResetPassword fail without changing anything.
	resetErr error
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[uint]*models.User{},
		sessions: map[string]*models.Session{},
	}
}

func (m *memStore) id() uint {
	m.nextID++
	return m.nextID
}

func (m *memStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.ID = m.id()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) GetUserByID(_ context.Context, id uint) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) TouchLastLogin(_ context.Context, userID uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

func (m *memStore) FirstOrganizationID(context.Context) (*uint, error) {
	return m.orgID, nil
}

func (m *memStore) CreateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memStore) GetSession(ctx context.Context, id string, now time.Time) (*models.Session, error) {
	m.mu.Lock()
	m.lookups++
	delay, lookupErr := m.lookupDelay, m.lookupErr
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if lookupErr != nil {
		return nil, lookupErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !s.ExpiresAt.After(now) {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ExtendSession(_ context.Context, id string, expiresAt, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.extendErr != nil {
		return m.extendErr
	}
	if s, ok := m.sessions[id]; ok {
		s.ExpiresAt = expiresAt
		s.LastSeenAt = seenAt
	}
	return nil
}

func (m *memStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memStore) DeleteUserSession(_ context.Context, userID uint, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID {
		return false, nil
	}
	delete(m.sessions, id)
	return true, nil
}

func (m *memStore) DeleteUserSessions(_ context.Context, userID uint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListUserSessions(_ context.Context, userID uint, now time.Time) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.ExpiresAt.After(now) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	return out, nil
}

func (m *memStore) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) IssueResetToken(_ context.Context, t *models.PasswordResetToken, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, old := range m.tokens {
		if old.UserID == t.UserID && old.UsedAt == nil && old.ExpiresAt.After(now) {
			used := now
			old.UsedAt = &used
		}
	}
	t.ID = m.id()
	cp := *t
	m.tokens = append(m.tokens, &cp)
	return nil
}

func (m *memStore) findToken(hash string, now time.Time) *models.PasswordResetToken {
	for _, t := range m.tokens {
		if t.TokenHash == hash && t.UsedAt == nil && t.ExpiresAt.After(now) {
			return t
		}
	}
	return nil
}

func (m *memStore) FindResetToken(_ context.Context, hash string, now time.Time) (*models.PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.findToken(hash, now)
	if t == nil {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) ResetPassword(_ context.Context, hash, passwordHash string, now time.Time) (uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resetErr != nil {
		return 0, m.resetErr
	}
	t := m.findToken(hash, now)
	if t == nil {
		return 0, ErrNotFound
	}
	user, ok := m.users[t.UserID]
	if !ok {
		return 0, ErrNotFound
	}
	user.PasswordHash = passwordHash
	usedAt := now
	t.UsedAt = &usedAt
	for id, s := range m.sessions {
		if s.UserID == user.ID {
			delete(m.sessions, id)
		}
	}
	return user.ID, nil
}

func (m *memStore) RecordAttempt(_ context.Context, a *models.AuthAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *a)
	return nil
}

func (m *memStore) CountFailedAttempts(_ context.Context, email, ip string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.attempts {
		if !a.Success && a.AttemptedAt.After(since) && (a.Email == email || a.IP == ip) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) sessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *memStore) lookupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups
}
