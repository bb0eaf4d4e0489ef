// Package audit records who changed what, with JSON snapshots of the
// entity before and after the change.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"delivery-backend/internal/models"

	"gorm.io/gorm"
)

type LogOptions struct {
	OrganizationID *uint
	UserID         uint
	UserName       string
	EntityType     string
	EntityID       uint
	Action         models.AuditAction
	Description    string
	Before         any
	After          any
}

// snapshot encodes v for a jsonb column; nil becomes JSON null.
func snapshot(v any) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// WriteLog inserts one audit row through db, which may be a transaction
// so the entry commits or rolls back with the change it describes.
func WriteLog(db *gorm.DB, opts LogOptions) error {
	entry := models.AuditLog{
		OrganizationID: opts.OrganizationID,
		UserID:         opts.UserID,
		UserName:       opts.UserName,
		EntityType:     opts.EntityType,
		EntityID:       opts.EntityID,
		Action:         opts.Action,
		Description:    opts.Description,
		BeforeData:     snapshot(opts.Before),
		AfterData:      snapshot(opts.After),
	}
	if err := db.Create(&entry).Error; err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

type Filter struct {
	OrganizationID *uint
	UserID         uint
	EntityType     string
	EntityID       uint
	Limit          int
}

func List(ctx context.Context, db *gorm.DB, f Filter) ([]models.AuditLog, error) {
	q := db.WithContext(ctx).Model(&models.AuditLog{})
	if f.OrganizationID != nil {
		q = q.Where("organization_id = ?", *f.OrganizationID)
	}
	if f.UserID > 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID > 0 {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var logs []models.AuditLog
	err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&logs).Error
	return logs, err
}
