package records

import (
	"context"
	"errors"
	"time"

	"delivery-backend/internal/audit"
	"delivery-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrNoVehicle = errors.New("no active vehicle")
)

// ListFilter narrows record listings. A nil OrganizationID lists every
// organization and is only used for super admins.
type ListFilter struct {
	OrganizationID *uint
	VehicleID      *uint
	From           *time.Time
	To             *time.Time // exclusive
}

type Store interface {
	// WithTx runs fn against a Store bound to one transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	CreateRecord(ctx context.Context, r *models.DeliveryRecord) error
	UpdateRecord(ctx context.Context, r *models.DeliveryRecord) error
	DeleteRecord(ctx context.Context, id uint) error
	GetRecord(ctx context.Context, orgID *uint, id uint) (*models.DeliveryRecord, error)
	ListRecords(ctx context.Context, f ListFilter) ([]models.DeliveryRecord, error)

	// PreviousOdometer is the latest odometer_end of the vehicle strictly
	// before the date, or nil.
	PreviousOdometer(ctx context.Context, vehicleID uint, before time.Time) (*int, error)
	ReplaceUsage(ctx context.Context, u *models.VehicleUsageLog) error
	DeleteUsage(ctx context.Context, recordID uint) error
	UsageByDate(ctx context.Context, orgID *uint, date time.Time) ([]models.VehicleUsageLog, error)

	ReplaceImages(ctx context.Context, recordID uint, paths []string) error
	DeleteImages(ctx context.Context, recordID uint) error

	DefaultVehicleID(ctx context.Context, orgID uint) (uint, error)
	VehicleInOrg(ctx context.Context, orgID, vehicleID uint) (bool, error)

	WriteAudit(ctx context.Context, opts audit.LogOptions) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) CreateRecord(ctx context.Context, r *models.DeliveryRecord) error {
	return s.db.WithContext(ctx).Omit("Images", "Usage").Create(r).Error
}

func (s *GormStore) UpdateRecord(ctx context.Context, r *models.DeliveryRecord) error {
	return s.db.WithContext(ctx).Model(r).Omit(clause.Associations).
		Select("vehicle_id", "entry_date", "loaded", "collected", "cutters", "returned", "missplaced",
			"expense", "expense_no_vat", "odometer_end", "note", "image_path", "updated_at").
		Updates(r).Error
}

func (s *GormStore) DeleteRecord(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Exec("DELETE FROM records WHERE id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) GetRecord(ctx context.Context, orgID *uint, id uint) (*models.DeliveryRecord, error) {
	q := s.db.WithContext(ctx).
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC, id ASC") }).
		Preload("Usage").
		Where("id = ?", id)
	if orgID != nil {
		q = q.Where("organization_id = ?", *orgID)
	}
	var r models.DeliveryRecord
	if err := q.Take(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *GormStore) ListRecords(ctx context.Context, f ListFilter) ([]models.DeliveryRecord, error) {
	q := s.db.WithContext(ctx).
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC, id ASC") })
	if f.OrganizationID != nil {
		q = q.Where("organization_id = ?", *f.OrganizationID)
	}
	if f.VehicleID != nil {
		q = q.Where("vehicle_id = ?", *f.VehicleID)
	}
	if f.From != nil {
		q = q.Where("entry_date >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("entry_date < ?", *f.To)
	}
	var out []models.DeliveryRecord
	err := q.Order("entry_date DESC, id DESC").Find(&out).Error
	return out, err
}

func (s *GormStore) PreviousOdometer(ctx context.Context, vehicleID uint, before time.Time) (*int, error) {
	var row models.VehicleUsageLog
	err := s.db.WithContext(ctx).
		Where("vehicle_id = ? AND entry_date < ? AND odometer_end IS NOT NULL", vehicleID, before).
		Order("entry_date DESC, record_id DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.OdometerEnd, nil
}

// ReplaceUsage drops any existing row for the record before inserting, so
// a record never has more than one usage entry.
func (s *GormStore) ReplaceUsage(ctx context.Context, u *models.VehicleUsageLog) error {
	if err := s.DeleteUsage(ctx, u.RecordID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(u).Error
}

func (s *GormStore) DeleteUsage(ctx context.Context, recordID uint) error {
	return s.db.WithContext(ctx).Exec("DELETE FROM vehicle_usage_log WHERE record_id = ?", recordID).Error
}

func (s *GormStore) UsageByDate(ctx context.Context, orgID *uint, date time.Time) ([]models.VehicleUsageLog, error) {
	q := s.db.WithContext(ctx).
		Table("vehicle_usage_log AS u").
		Select("u.*").
		Joins("JOIN records r ON r.id = u.record_id").
		Where("u.entry_date = ?", date)
	if orgID != nil {
		q = q.Where("r.organization_id = ?", *orgID)
	}
	var out []models.VehicleUsageLog
	err := q.Order("u.vehicle_id ASC, u.id ASC").Scan(&out).Error
	return out, err
}

func (s *GormStore) ReplaceImages(ctx context.Context, recordID uint, paths []string) error {
	if err := s.DeleteImages(ctx, recordID); err != nil {
		return err
	}
	if len(paths) == 0 {
		return nil
	}
	rows := make([]models.RecordImage, 0, len(paths))
	for i, p := range paths {
		rows = append(rows, models.RecordImage{RecordID: recordID, Path: p, Position: i})
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

func (s *GormStore) DeleteImages(ctx context.Context, recordID uint) error {
	return s.db.WithContext(ctx).Exec("DELETE FROM record_images WHERE record_id = ?", recordID).Error
}

func (s *GormStore) DefaultVehicleID(ctx context.Context, orgID uint) (uint, error) {
	var v models.Vehicle
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND is_active = ?", orgID, true).
		Order("id ASC").
		Take(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrNoVehicle
	}
	if err != nil {
		return 0, err
	}
	return v.ID, nil
}

func (s *GormStore) VehicleInOrg(ctx context.Context, orgID, vehicleID uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Vehicle{}).
		Where("id = ? AND organization_id = ?", vehicleID, orgID).
		Count(&n).Error
	return n > 0, err
}

func (s *GormStore) WriteAudit(ctx context.Context, opts audit.LogOptions) error {
	return audit.WriteLog(s.db.WithContext(ctx), opts)
}
