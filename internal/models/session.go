package models

import "time"

// Session is a server-side login session addressed by the cookie value.
type Session struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	UserID     uint      `gorm:"index;not null" json:"user_id"`
	User       *User     `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	ExpiresAt  time.Time `gorm:"index;not null" json:"expires_at"`
	IP         string    `gorm:"size:64" json:"ip"`
	UserAgent  string    `gorm:"size:512" json:"user_agent"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

type PasswordResetToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	User      *User     `gorm:"constraint:OnDelete:CASCADE"`
	TokenHash string    `gorm:"size:64;uniqueIndex;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	UsedAt    *time.Time
	IP        string `gorm:"size:64"`
	UserAgent string `gorm:"size:512"`
	CreatedAt time.Time
}

// AuthAttempt backs the login throttle.
type AuthAttempt struct {
	ID          uint      `gorm:"primaryKey"`
	Email       string    `gorm:"size:255;index"`
	IP          string    `gorm:"size:64;index"`
	Success     bool      `gorm:"not null"`
	AttemptedAt time.Time `gorm:"index;not null"`
}
