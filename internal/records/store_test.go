package records

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewGormStore(db), mock
}

func TestGormStorePreviousOdometer(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "vehicle_usage_log" WHERE vehicle_id = \$1 AND entry_date < \$2 AND odometer_end IS NOT NULL ORDER BY entry_date DESC, record_id DESC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "record_id", "vehicle_id", "odometer_end"}).AddRow(4, 4, 3, 880))
	mock.ExpectQuery(`SELECT \* FROM "vehicle_usage_log"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	prev, err := store.PreviousOdometer(context.Background(), 3, date(2025, time.June, 2))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, 880, *prev)

	prev, err = store.PreviousOdometer(context.Background(), 3, date(2020, time.June, 2))
	require.NoError(t, err)
	assert.Nil(t, prev)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreDeleteMissingRecord(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM records WHERE id = $1`)).
		WithArgs(12).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, store.DeleteRecord(context.Background(), 12), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreTransactionRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM vehicle_usage_log WHERE record_id = $1`)).
		WithArgs(5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM record_images WHERE record_id = $1`)).
		WithArgs(5).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx Store) error {
		if err := tx.DeleteUsage(context.Background(), 5); err != nil {
			return err
		}
		return tx.DeleteImages(context.Background(), 5)
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreReplaceImagesKeepsOrder(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM record_images WHERE record_id = $1`)).
		WithArgs(8).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`INSERT INTO "record_images" \("record_id","path","position","created_at"\)`).
		WithArgs(8, "images/a.jpg", 0, sqlmock.AnyArg(), 8, "images/b.jpg", 1, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))

	require.NoError(t, store.ReplaceImages(context.Background(), 8, []string{"images/a.jpg", "images/b.jpg"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
