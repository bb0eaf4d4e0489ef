package database

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"delivery-backend/internal/config"
	"delivery-backend/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects the process-wide pool. The statement timeout is applied as a
// connection runtime parameter so every borrowed connection carries it.
func Open(cfg *config.Config, log logrus.FieldLogger) (*gorm.DB, error) {
	dsn := withStatementTimeout(cfg.DatabaseURL, cfg.DBStatementTimeout)

	gormLog := logger.Default.LogMode(logger.Warn)
	if !cfg.IsProduction() {
		gormLog = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxOpenConns)
	sqlDB.SetConnMaxIdleTime(30 * time.Second)

	log.WithField("max_open_conns", cfg.DBMaxOpenConns).Info("database pool ready")
	return db, nil
}

func withStatementTimeout(dsn string, timeout time.Duration) string {
	if timeout <= 0 {
		return dsn
	}
	ms := fmt.Sprintf("%d", timeout.Milliseconds())
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		q := u.Query()
		if q.Get("statement_timeout") == "" {
			q.Set("statement_timeout", ms)
		}
		u.RawQuery = q.Encode()
		return u.String()
	}
	if strings.Contains(dsn, "statement_timeout=") {
		return dsn
	}
	return strings.TrimSpace(dsn) + " statement_timeout=" + ms
}

// Migrate brings the schema up to date, then moves rows that still use the
// legacy image column into record_images.
func Migrate(db *gorm.DB, log logrus.FieldLogger) error {
	if err := db.AutoMigrate(
		&models.Organization{},
		&models.User{},
		&models.Session{},
		&models.PasswordResetToken{},
		&models.AuthAttempt{},
		&models.Vehicle{},
		&models.Client{},
		&models.DeliveryRecord{},
		&models.RecordImage{},
		&models.VehicleUsageLog{},
		&models.Invoice{},
		&models.AuditLog{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if err := migrateLegacyImagePaths(db, log); err != nil {
		return err
	}

	if err := ensureIndexes(db); err != nil {
		return err
	}
	log.Info("schema migration finished")
	return nil
}

func ensureIndexes(db *gorm.DB) error {
	err := db.Exec("CREATE INDEX IF NOT EXISTS idx_vehicle_usage_log_vehicle_date ON vehicle_usage_log(vehicle_id, entry_date, record_id)").Error
	if err != nil {
		return fmt.Errorf("create usage log index: %w", err)
	}
	return nil
}

// migrateLegacyImagePaths copies records.image_path (a JSON array, or a bare
// path from the single-image era) into record_images and clears the column.
func migrateLegacyImagePaths(db *gorm.DB, log logrus.FieldLogger) error {
	type legacyRow struct {
		ID        uint
		ImagePath string
	}
	var rows []legacyRow
	if err := db.Raw("SELECT id, image_path FROM records WHERE image_path IS NOT NULL AND image_path <> ''").Scan(&rows).Error; err != nil {
		return fmt.Errorf("read legacy image paths: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	log.WithField("records", len(rows)).Info("moving legacy image paths into record_images")
	return db.Transaction(func(tx *gorm.DB) error {
		for _, r := range rows {
			var existing int64
			if err := tx.Model(&models.RecordImage{}).Where("record_id = ?", r.ID).Count(&existing).Error; err != nil {
				return err
			}
			if existing == 0 {
				for i, p := range ParseLegacyImagePaths(r.ImagePath) {
					img := models.RecordImage{RecordID: r.ID, Path: p, Position: i}
					if err := tx.Create(&img).Error; err != nil {
						return fmt.Errorf("copy image path for record %d: %w", r.ID, err)
					}
				}
			}
			if err := tx.Exec("UPDATE records SET image_path = NULL WHERE id = ?", r.ID).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ParseLegacyImagePaths accepts both encodings of the old image column.
func ParseLegacyImagePaths(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var paths []string
		if err := json.Unmarshal([]byte(raw), &paths); err == nil {
			out := paths[:0]
			for _, p := range paths {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			return out
		}
	}
	return []string{raw}
}

// Ping runs a trivial query against the pool.
func Ping(ctx context.Context, db *gorm.DB) error {
	var one int
	return db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error
}

// Fingerprint summarises row counts and last-modified times of the tables
// that matter for backups. Two equal fingerprints mean nothing worth backing
// up has changed.
func Fingerprint(ctx context.Context, db *gorm.DB) (string, error) {
	var row struct {
		Records    int64
		RecordsMax *time.Time
		Usage      int64
		UsageMax   *time.Time
		Users      int64
		UsersMax   *time.Time
	}
	err := db.WithContext(ctx).Raw(`SELECT
		(SELECT COUNT(*) FROM records) AS records,
		(SELECT MAX(updated_at) FROM records) AS records_max,
		(SELECT COUNT(*) FROM vehicle_usage_log) AS usage,
		(SELECT MAX(created_at) FROM vehicle_usage_log) AS usage_max,
		(SELECT COUNT(*) FROM users) AS users,
		(SELECT MAX(updated_at) FROM users) AS users_max`).Scan(&row).Error
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	stamp := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("records:%d@%s|usage:%d@%s|users:%d@%s",
		row.Records, stamp(row.RecordsMax),
		row.Usage, stamp(row.UsageMax),
		row.Users, stamp(row.UsersMax)), nil
}
