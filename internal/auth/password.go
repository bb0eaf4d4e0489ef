package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	registerPasswordMinLen = 8
	resetPasswordMinLen    = 12
)

func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// registrationPasswordProblem returns a message when the password is too weak
// for self-registration, or "" when it is acceptable.
func registrationPasswordProblem(password string) string {
	if len(password) < registerPasswordMinLen {
		return "Password must be at least 8 characters"
	}
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return "Password must contain both letters and numbers"
	}
	return ""
}

// PasswordProblem applies the registration rules to passwords set by admins.
func PasswordProblem(password string) string {
	return registrationPasswordProblem(password)
}

func resetPasswordProblem(password, confirm string) string {
	if len(password) < resetPasswordMinLen {
		return "Password must be at least 12 characters"
	}
	if password != confirm {
		return "Passwords do not match"
	}
	return ""
}

// newResetToken returns the raw token handed to the user and the hash that
// is stored. Only the hash ever reaches the database.
func newResetToken() (raw, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(buf)
	return raw, hashToken(raw), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
