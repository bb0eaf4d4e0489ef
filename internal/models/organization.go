package models

import "time"

type Organization struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:150;not null;unique" json:"name"`
	Address   string    `gorm:"size:255" json:"address"`
	VatNumber string    `gorm:"size:50" json:"vat_number"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Users []User `json:"-"`
}

type Vehicle struct {
	ID             uint          `gorm:"primaryKey" json:"id"`
	OrganizationID uint          `gorm:"index;not null" json:"organization_id"`
	Organization   *Organization `json:"-"`
	Registration   string        `gorm:"size:20;not null;uniqueIndex" json:"registration"`
	Label          string        `gorm:"size:100" json:"label"`
	IsActive       bool          `gorm:"not null" json:"is_active"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Client is a billing counterparty; invoices can take their receiver block from it.
type Client struct {
	ID             uint          `gorm:"primaryKey" json:"id"`
	OrganizationID uint          `gorm:"index;not null" json:"organization_id"`
	Organization   *Organization `json:"-"`
	Name           string        `gorm:"size:150;not null" json:"name"`
	Address        string        `gorm:"size:255" json:"address"`
	Email          string        `gorm:"size:255" json:"email"`
	Phone          string        `gorm:"size:50" json:"phone"`
	VatNumber      string        `gorm:"size:50" json:"vat_number"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}
