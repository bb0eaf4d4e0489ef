package invoice

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const shareIssuer = "delivery-backend/invoice-share"

var (
	ErrSharingDisabled = errors.New("invoice sharing is not configured")
	ErrInvalidShare    = errors.New("invalid or expired share link")
)

// ShareClaims identify one organization's invoice for one month.
type ShareClaims struct {
	OrganizationID uint `json:"org"`
	Year           int  `json:"year"`
	Month          int  `json:"month"`
	jwt.RegisteredClaims
}

// ShareSigner issues and checks HS256 tokens for read-only invoice links.
type ShareSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewShareSigner returns nil when secret is empty; a nil signer refuses
// every operation with ErrSharingDisabled.
func NewShareSigner(secret string, ttl time.Duration, now func() time.Time) *ShareSigner {
	if secret == "" {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	return &ShareSigner{secret: []byte(secret), ttl: ttl, now: now}
}

func (s *ShareSigner) Sign(orgID uint, year, month int) (string, time.Time, error) {
	if s == nil {
		return "", time.Time{}, ErrSharingDisabled
	}
	now := s.now()
	exp := now.Add(s.ttl)
	claims := ShareClaims{
		OrganizationID: orgID,
		Year:           year,
		Month:          month,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    shareIssuer,
			Subject:   fmt.Sprintf("org:%d", orgID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

func (s *ShareSigner) Verify(token string) (*ShareClaims, error) {
	if s == nil {
		return nil, ErrSharingDisabled
	}
	var claims ShareClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(shareIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShare, err)
	}
	if claims.Month < 1 || claims.Month > 12 || claims.OrganizationID == 0 {
		return nil, ErrInvalidShare
	}
	return &claims, nil
}
