package persistence

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/wallet"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newMockDB opens GORM on a sqlmock connection with the postgres dialect
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	return openMock(t, mockDB), mock, mockDB
}

func openMock(t *testing.T, mockDB *sql.DB) *gorm.DB {
	t.Helper()
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	}), &gorm.Config{SkipDefaultTransaction: true, DisableAutomaticPing: true})
	require.NoError(t, err)
	return gormDB
}

func newMockDatabase(t *testing.T) (*Database, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	gormDB, mock, mockDB := newMockDB(t)
	db, err := wrap(gormDB)
	require.NoError(t, err)
	return db, mock, mockDB
}

func TestDatabase_Ping(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()
	db, err := wrap(openMock(t, mockDB))
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, db.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.Error(t, db.Ping(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabase_Stats(t *testing.T) {
	db, _, mockDB := newMockDatabase(t)
	defer mockDB.Close()
	mockDB.SetMaxOpenConns(7)

	stats := db.Stats()
	assert.Equal(t, 7, stats.MaxOpenConnections)
	assert.Equal(t, stats.InUse+stats.Idle, stats.OpenConnections)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(db.StatsCollector("billflow")))
	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "go_sql_max_open_connections")
}

func TestDatabase_Transaction(t *testing.T) {
	t.Run("commits", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "wallets"`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := db.Transaction(context.Background(), func(tx *gorm.DB) error {
			return tx.Exec(`UPDATE "wallets" SET balance = 0`).Error
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := db.Transaction(context.Background(), func(*gorm.DB) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDatabase_Close(t *testing.T) {
	db, mock, _ := newMockDatabase(t)

	mock.ExpectClose()
	assert.NoError(t, db.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormWalletRepository_FindByUserIDForUpdate(t *testing.T) {
	gormDB, mock, mockDB := newMockDB(t)
	defer mockDB.Close()
	repo := NewGormWalletRepository(gormDB)

	id := uuid.New()
	rows := sqlmock.NewRows([]string{"id", "user_id", "balance", "currency", "version"}).
		AddRow(id, "u1", "12.50", "USD", 3)
	mock.ExpectQuery(`SELECT \* FROM "wallets" WHERE user_id = \$1 ORDER BY .* LIMIT .* FOR UPDATE`).
		WithArgs("u1", 1).
		WillReturnRows(rows)

	w, err := repo.FindByUserIDForUpdate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, id, w.ID)
	assert.Equal(t, 3, w.Version)
	assert.True(t, decimal.RequireFromString("12.5").Equal(w.Balance))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormWalletRepository_SaveWithLock(t *testing.T) {
	newWallet := func() *wallet.Wallet {
		w, err := wallet.NewWallet("u1", "USD")
		require.NoError(t, err)
		w.MarkPersisted()
		_, _, err = w.Credit(decimal.NewFromInt(5))
		require.NoError(t, err)
		return w
	}

	t.Run("guards on the previous version", func(t *testing.T) {
		gormDB, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		repo := NewGormWalletRepository(gormDB)
		w := newWallet()

		mock.ExpectExec(`UPDATE "wallets" SET .* WHERE id = \$\d+ AND version = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.SaveWithLock(context.Background(), w))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no row updated is a conflict", func(t *testing.T) {
		gormDB, mock, mockDB := newMockDB(t)
		defer mockDB.Close()
		repo := NewGormWalletRepository(gormDB)

		mock.ExpectExec(`UPDATE "wallets" SET`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.SaveWithLock(context.Background(), newWallet())
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
