package odometer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"delivery-backend/internal/models"

	"gorm.io/gorm"
)

// ErrNoVehicle means the organization has no active vehicle to default to.
var ErrNoVehicle = errors.New("no active vehicle")

type Store interface {
	// Readings returns the standard-mode odometer readings of the vehicle
	// dated before the given day, oldest first.
	Readings(ctx context.Context, orgID, vehicleID uint, before time.Time) ([]Reading, error)
	ManualDistance(ctx context.Context, orgID, vehicleID uint, from, to time.Time) (int, error)
	DefaultVehicleID(ctx context.Context, orgID uint) (uint, error)
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, now: now}
}

// Report builds the month report for a vehicle, defaulting to the
// organization's first active vehicle when vehicleID is nil.
func (s *Service) Report(ctx context.Context, orgID uint, vehicleID *uint, year, month int) (*Report, error) {
	var vid uint
	if vehicleID != nil {
		vid = *vehicleID
	} else {
		id, err := s.store.DefaultVehicleID(ctx, orgID)
		if err != nil {
			return nil, err
		}
		vid = id
	}

	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	next := first.AddDate(0, 1, 0)

	readings, err := s.store.Readings(ctx, orgID, vid, next)
	if err != nil {
		return nil, fmt.Errorf("load odometer readings: %w", err)
	}
	report := MonthReport(readings, year, month)

	manual, err := s.store.ManualDistance(ctx, orgID, vid, first, next)
	if err != nil {
		return nil, fmt.Errorf("load manual distance: %w", err)
	}
	report.Stats.ManualDistance = manual
	return &report, nil
}

func (s *Service) Now() time.Time { return s.now() }

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Readings(ctx context.Context, orgID, vehicleID uint, before time.Time) ([]Reading, error) {
	var out []Reading
	err := s.db.WithContext(ctx).
		Table("vehicle_usage_log AS u").
		Select("u.record_id, u.entry_date, u.odometer_end AS odometer").
		Joins("JOIN records r ON r.id = u.record_id").
		Where("r.organization_id = ? AND u.vehicle_id = ? AND u.usage_mode = ? AND u.odometer_end IS NOT NULL AND u.entry_date < ?",
			orgID, vehicleID, models.UsageStandard, before).
		Order("u.entry_date ASC, u.record_id ASC").
		Scan(&out).Error
	return out, err
}

func (s *GormStore) ManualDistance(ctx context.Context, orgID, vehicleID uint, from, to time.Time) (int, error) {
	var total int
	err := s.db.WithContext(ctx).
		Table("vehicle_usage_log AS u").
		Select("COALESCE(SUM(u.distance_manual), 0)").
		Joins("JOIN records r ON r.id = u.record_id").
		Where("r.organization_id = ? AND u.vehicle_id = ? AND u.usage_mode = ? AND u.entry_date >= ? AND u.entry_date < ?",
			orgID, vehicleID, models.UsageOther, from, to).
		Scan(&total).Error
	return total, err
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
