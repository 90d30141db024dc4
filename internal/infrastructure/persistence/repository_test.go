package persistence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/billflow/backend/internal/domain/billing"
	"github.com/billflow/backend/internal/domain/pricing"
	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/usage"
	"github.com/billflow/backend/internal/domain/wallet"
	"github.com/billflow/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens a private in-memory SQLite database with every billing table.
// A single connection keeps the memory database alive and serializes transactions.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:billing-%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.UsageEventModel{},
		&models.BillingRecordModel{},
		&models.WalletModel{},
		&models.WalletTransactionModel{},
		&models.ProductModel{},
		&models.SubscriptionModel{},
		&models.OutboxEntryModel{},
	))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newUsageEvent(t *testing.T, userID, productID, amount string, occurredAt time.Time) *usage.UsageEvent {
	t.Helper()
	e, err := usage.NewUsageEvent(usage.NewUsageEventParams{
		UserID:       userID,
		ProductID:    productID,
		Amount:       decimal.RequireFromString(amount),
		UnitType:     usage.UnitTypeToken,
		UsageDetails: map[string]string{"model": productID},
		OccurredAt:   occurredAt,
	})
	require.NoError(t, err)
	return e
}

func newBillingRecord(t *testing.T, userID, productID, amount, cost string) *billing.BillingRecord {
	t.Helper()
	ev := newUsageEvent(t, userID, productID, amount, time.Now().Add(-time.Minute))
	return billing.NewBillingRecord(ev.ToRecordedEvent(), "USD", billing.Computation{
		UnitPrice:       decimal.RequireFromString("0.002"),
		CostUSD:         decimal.RequireFromString(cost),
		TokenEquivalent: decimal.Zero,
		Status:          billing.StatusPending,
	})
}

func TestGormUsageEventRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormUsageEventRepository(db)
	ctx := context.Background()

	t.Run("create is idempotent on id", func(t *testing.T) {
		e := newUsageEvent(t, "u1", "gpt-4", "100", time.Now())

		created, err := repo.Create(ctx, e)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = repo.Create(ctx, e)
		require.NoError(t, err)
		assert.False(t, created)

		found, err := repo.FindByID(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, "u1", found.UserID)
		assert.True(t, decimal.RequireFromString("100").Equal(found.Amount))
		assert.Equal(t, map[string]string{"model": "gpt-4"}, found.UsageDetails)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("lists by user with paging", func(t *testing.T) {
		base := time.Now().Add(-time.Hour)
		for i := 0; i < 3; i++ {
			_, err := repo.Create(ctx, newUsageEvent(t, "u-list", "gpt-4", fmt.Sprint(i+1), base.Add(time.Duration(i)*time.Minute)))
			require.NoError(t, err)
		}

		events, total, err := repo.FindByUser(ctx, "u-list", shared.Filter{Page: 1, PageSize: 2, OrderBy: "occurred_at", OrderDir: "asc"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, events, 2)
		assert.True(t, events[0].OccurredAt.Before(events[1].OccurredAt))
	})

	t.Run("retention window", func(t *testing.T) {
		old := newUsageEvent(t, "u-old", "gpt-4", "5", time.Now().Add(-48*time.Hour))
		old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
		_, err := repo.Create(ctx, old)
		require.NoError(t, err)

		due, err := repo.FindRecordedBefore(ctx, time.Now().UTC().Add(-24*time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, old.ID, due[0].ID)

		deleted, err := repo.DeleteByIDs(ctx, []uuid.UUID{old.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		deleted, err = repo.DeleteByIDs(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})
}

func TestGormBillingRecordRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormBillingRecordRepository(db)
	ctx := context.Background()

	t.Run("one record per usage event", func(t *testing.T) {
		record := newBillingRecord(t, "u1", "gpt-4", "100", "0.2")

		created, err := repo.Create(ctx, record)
		require.NoError(t, err)
		assert.True(t, created)

		again := *record
		again.ID = uuid.New()
		created, err = repo.Create(ctx, &again)
		require.NoError(t, err)
		assert.False(t, created, "usage_event_id is unique")

		found, err := repo.FindByUsageEventID(ctx, *record.UsageEventID)
		require.NoError(t, err)
		assert.Equal(t, record.ID, found.ID)
		assert.Equal(t, billing.StatusPending, found.Status)
		assert.True(t, decimal.RequireFromString("0.2").Equal(found.CostUSD))
	})

	t.Run("update settlement", func(t *testing.T) {
		record := newBillingRecord(t, "u2", "gpt-4", "50", "0.1")
		_, err := repo.Create(ctx, record)
		require.NoError(t, err)

		txID := uuid.New()
		require.NoError(t, record.MarkCharged(&txID))
		require.NoError(t, repo.UpdateSettlement(ctx, record))

		found, err := repo.FindByID(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCharged, found.Status)
		require.NotNil(t, found.WalletTransactionID)
		assert.Equal(t, txID, *found.WalletTransactionID)

		missing := newBillingRecord(t, "u2", "gpt-4", "1", "0.002")
		assert.ErrorIs(t, repo.UpdateSettlement(ctx, missing), shared.ErrNotFound)
	})

	t.Run("filters by user and status", func(t *testing.T) {
		records, total, err := repo.FindAll(ctx, billing.Filter{UserID: "u2", Status: billing.StatusCharged})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, records, 1)
		assert.Equal(t, "u2", records[0].UserID)

		_, total, err = repo.FindAll(ctx, billing.Filter{Status: billing.StatusFailed})
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("month to date usage", func(t *testing.T) {
		for _, amount := range []string{"10", "15"} {
			_, err := repo.Create(ctx, newBillingRecord(t, "u-sum", "embed", amount, "0"))
			require.NoError(t, err)
		}
		from, to := billing.Period(time.Now())

		sum, err := repo.SumUsage(ctx, "u-sum", "embed", from, to)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(25).Equal(sum), sum.String())

		sum, err = repo.SumUsage(ctx, "nobody", "embed", from, to)
		require.NoError(t, err)
		assert.True(t, sum.IsZero())
	})

	t.Run("pending before cutoff", func(t *testing.T) {
		pending, err := repo.FindPendingBefore(ctx, time.Now().UTC().Add(time.Minute), 100)
		require.NoError(t, err)
		for _, r := range pending {
			assert.Equal(t, billing.StatusPending, r.Status)
		}
		assert.NotEmpty(t, pending)

		pending, err = repo.FindPendingBefore(ctx, time.Now().UTC().Add(-time.Hour), 100)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}

func TestGormWalletRepository(t *testing.T) {
	db := setupTestDB(t)
	wallets := NewGormWalletRepository(db)
	txs := NewGormWalletTransactionRepository(db)
	ctx := context.Background()

	w, err := wallet.NewWallet("u1", "USD")
	require.NoError(t, err)
	require.NoError(t, wallets.Create(ctx, w))

	t.Run("one wallet per user", func(t *testing.T) {
		dup, err := wallet.NewWallet("u1", "USD")
		require.NoError(t, err)
		assert.ErrorIs(t, wallets.Create(ctx, dup), shared.ErrAlreadyExists)
	})

	t.Run("save checks the version", func(t *testing.T) {
		loaded, err := wallets.FindByUserIDForUpdate(ctx, "u1")
		require.NoError(t, err)
		_, _, err = loaded.Credit(decimal.NewFromInt(10))
		require.NoError(t, err)
		require.NoError(t, wallets.SaveWithLock(ctx, loaded))

		stale, err := wallets.FindByUserID(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(10).Equal(stale.Balance))
		assert.Equal(t, 2, stale.Version)

		// a second writer that read version 1 loses
		_, _, err = w.Credit(decimal.NewFromInt(1))
		require.NoError(t, err)
		assert.ErrorIs(t, wallets.SaveWithLock(ctx, w), shared.ErrConcurrencyConflict)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := wallets.FindByUserID(ctx, "nobody")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("ledger entries are written once", func(t *testing.T) {
		recordID := uuid.New()
		debit := wallet.NewDebitTransaction(w, recordID, decimal.NewFromInt(2), decimal.NewFromInt(10), decimal.NewFromInt(8), wallet.AccountingUnitUSD)

		created, err := txs.Create(ctx, debit)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = txs.Create(ctx, wallet.NewDebitTransaction(w, recordID, decimal.NewFromInt(2), decimal.NewFromInt(8), decimal.NewFromInt(6), wallet.AccountingUnitUSD))
		require.NoError(t, err)
		assert.False(t, created)

		found, err := txs.FindByBillingRecordID(ctx, recordID)
		require.NoError(t, err)
		assert.Equal(t, debit.ID, found.ID)
		assert.Equal(t, wallet.TransactionTypeDebit, found.Type)

		credit, err := wallet.NewCreditTransaction(w, "stripe-1", decimal.NewFromInt(5), decimal.NewFromInt(8), decimal.NewFromInt(13), wallet.AccountingUnitUSD)
		require.NoError(t, err)
		_, err = txs.Create(ctx, credit)
		require.NoError(t, err)

		list, total, err := txs.FindByUser(ctx, "u1", shared.DefaultFilter())
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, list, 2)

		_, err = txs.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestGormPricingRepositories(t *testing.T) {
	db := setupTestDB(t)
	products := NewGormProductRepository(db)
	subs := NewGormSubscriptionRepository(db)
	ctx := context.Background()

	p, err := pricing.NewProduct("gpt-4", "GPT-4", usage.UnitTypeToken, decimal.RequireFromString("0.002"))
	require.NoError(t, err)
	p.WithFreeTierQuota(decimal.NewFromInt(1000))
	require.NoError(t, products.Save(ctx, p))

	p.UnitPrice = decimal.RequireFromString("0.003")
	require.NoError(t, products.Save(ctx, p), "save replaces")

	found, err := products.FindByID(ctx, "gpt-4")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.003").Equal(found.UnitPrice))
	assert.True(t, decimal.NewFromInt(1000).Equal(found.FreeTierQuota))
	assert.True(t, found.Active)

	_, err = products.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	now := time.Now().UTC()
	active := &pricing.Subscription{
		ID:                 uuid.New(),
		UserID:             "u1",
		Status:             pricing.SubscriptionStatusActive,
		CurrentPeriodStart: now.Add(-24 * time.Hour),
		CurrentPeriodEnd:   now.Add(24 * time.Hour),
		IncludedProducts:   []string{"gpt-4"},
	}
	expired := &pricing.Subscription{
		ID:                 uuid.New(),
		UserID:             "u1",
		Status:             pricing.SubscriptionStatusActive,
		CurrentPeriodStart: now.Add(-72 * time.Hour),
		CurrentPeriodEnd:   now.Add(-48 * time.Hour),
		IncludedProducts:   []string{"gpt-4"},
	}
	require.NoError(t, subs.Save(ctx, active))
	require.NoError(t, subs.Save(ctx, expired))

	current, err := subs.FindActiveByUser(ctx, "u1", now)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, active.ID, current[0].ID)
	assert.Equal(t, []string{"gpt-4"}, current[0].IncludedProducts)

	byID, err := subs.FindByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, expired.UserID, byID.UserID)
}
