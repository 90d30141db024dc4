package persistence

import (
	"context"
	"testing"
	"time"

	billingapp "github.com/billflow/backend/internal/application/billing"
	pricingapp "github.com/billflow/backend/internal/application/pricing"
	usageapp "github.com/billflow/backend/internal/application/usage"
	walletapp "github.com/billflow/backend/internal/application/wallet"
	"github.com/billflow/backend/internal/domain/billing"
	"github.com/billflow/backend/internal/domain/pricing"
	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/usage"
	"github.com/billflow/backend/internal/domain/wallet"
	"github.com/billflow/backend/internal/infrastructure/event"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// pipeline wires recorder, calculator and settler over one database
// with the outbox relayed through the in-memory bus
type pipeline struct {
	db         *gorm.DB
	recorder   *usageapp.Recorder
	calculator *billingapp.Calculator
	settler    *walletapp.Settler
	bus        *event.InMemoryEventBus
	processor  *event.OutboxProcessor
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	return newPipelineOn(t, setupTestDB(t))
}

func newPipelineOn(t *testing.T, db *gorm.DB) *pipeline {
	t.Helper()
	log := zap.NewNop()

	serializer := event.NewEventSerializer()
	event.RegisterAllEvents(serializer)
	scope := NewGormTransactionScope(db, event.NewOutboxPublisher(serializer))

	resolver := pricingapp.NewService(NewGormProductRepository(db), NewGormSubscriptionRepository(db))
	p := &pipeline{
		db:       db,
		recorder: usageapp.NewRecorder(scope, NewGormUsageEventRepository(db), log),
		calculator: billingapp.NewCalculator(scope, NewGormBillingRecordRepository(db), resolver, billingapp.CalculatorConfig{
			DefaultTokenRate: decimal.RequireFromString("0.001"),
		}, log),
		settler: walletapp.NewSettler(scope, walletapp.SettlementConfig{AccountingUnit: wallet.AccountingUnitUSD}, log),
		bus:     event.NewInMemoryEventBus(log),
	}
	p.bus.Subscribe(p.calculator)
	p.bus.Subscribe(p.settler)
	p.processor = event.NewOutboxProcessor(event.NewGormOutboxRepository(db), p.bus, serializer, event.DefaultOutboxProcessorConfig(), log)
	return p
}

// drain relays the outbox until nothing is left to deliver
func (p *pipeline) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 10; i++ {
		if p.processor.ProcessOnce(context.Background()) == 0 {
			return
		}
	}
	t.Fatal("outbox did not drain")
}

func (p *pipeline) product(t *testing.T, id, price string) {
	t.Helper()
	prod, err := pricing.NewProduct(id, id, usage.UnitTypeToken, decimal.RequireFromString(price))
	require.NoError(t, err)
	require.NoError(t, NewGormProductRepository(p.db).Save(context.Background(), prod))
}

func (p *pipeline) fund(t *testing.T, userID, amount string) {
	t.Helper()
	w, err := wallet.NewWallet(userID, "USD")
	require.NoError(t, err)
	_, _, err = w.Credit(decimal.RequireFromString(amount))
	require.NoError(t, err)
	require.NoError(t, NewGormWalletRepository(p.db).Create(context.Background(), w))
}

func (p *pipeline) record(t *testing.T, userID, productID, amount string) uuid.UUID {
	t.Helper()
	res, err := p.recorder.RecordUsage(context.Background(), usageapp.RecordUsageInput{
		UserID:    userID,
		ProductID: productID,
		Amount:    amount,
		UnitType:  string(usage.UnitTypeToken),
	})
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	return res.UsageEventID
}

func (p *pipeline) billed(t *testing.T, usageEventID uuid.UUID) *billing.BillingRecord {
	t.Helper()
	r, err := NewGormBillingRecordRepository(p.db).FindByUsageEventID(context.Background(), usageEventID)
	require.NoError(t, err)
	return r
}

func (p *pipeline) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	w, err := NewGormWalletRepository(p.db).FindByUserID(context.Background(), userID)
	require.NoError(t, err)
	return w.Balance
}

func TestPipeline_ChargesWallet(t *testing.T) {
	p := newPipeline(t)
	p.product(t, "gpt-4", "0.002")
	p.fund(t, "u1", "10")

	id := p.record(t, "u1", "gpt-4", "100")
	p.drain(t)

	record := p.billed(t, id)
	assert.Equal(t, billing.StatusCharged, record.Status)
	assert.True(t, decimal.RequireFromString("0.2").Equal(record.CostUSD), record.CostUSD.String())
	require.NotNil(t, record.WalletTransactionID)

	tx, err := NewGormWalletTransactionRepository(p.db).FindByBillingRecordID(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, *record.WalletTransactionID, tx.ID)
	assert.Equal(t, wallet.TransactionTypeDebit, tx.Type)
	assert.True(t, decimal.RequireFromString("0.2").Equal(tx.Amount))
	assert.True(t, decimal.RequireFromString("9.8").Equal(p.balance(t, "u1")))
	assert.Equal(t, int64(1), countOutbox(t, p.db, wallet.EventTypeWalletDebited))
}

func TestPipeline_SubscriptionIncluded(t *testing.T) {
	p := newPipeline(t)
	p.product(t, "gpt-4", "0.002")
	p.fund(t, "u1", "10")

	now := time.Now().UTC()
	require.NoError(t, NewGormSubscriptionRepository(p.db).Save(context.Background(), &pricing.Subscription{
		ID:                 uuid.New(),
		UserID:             "u1",
		Status:             pricing.SubscriptionStatusActive,
		CurrentPeriodStart: now.Add(-time.Hour),
		CurrentPeriodEnd:   now.Add(30 * 24 * time.Hour),
		IncludedProducts:   []string{"gpt-4"},
	}))

	id := p.record(t, "u1", "gpt-4", "100")
	p.drain(t)

	record := p.billed(t, id)
	assert.Equal(t, billing.StatusSubscriptionIncluded, record.Status)
	assert.True(t, record.CostUSD.IsZero())
	assert.Nil(t, record.WalletTransactionID)

	_, err := NewGormWalletTransactionRepository(p.db).FindByBillingRecordID(context.Background(), record.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.True(t, decimal.NewFromInt(10).Equal(p.balance(t, "u1")))
}

func TestPipeline_InsufficientBalance(t *testing.T) {
	p := newPipeline(t)
	p.product(t, "gpt-4", "0.1")
	p.fund(t, "u1", "5")

	id := p.record(t, "u1", "gpt-4", "100")
	p.drain(t)

	record := p.billed(t, id)
	assert.Equal(t, billing.StatusFailed, record.Status)
	assert.True(t, decimal.NewFromInt(10).Equal(record.CostUSD))
	assert.Nil(t, record.WalletTransactionID)

	_, err := NewGormWalletTransactionRepository(p.db).FindByBillingRecordID(context.Background(), record.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.True(t, decimal.NewFromInt(5).Equal(p.balance(t, "u1")))
	assert.Equal(t, int64(1), countOutbox(t, p.db, wallet.EventTypeInsufficientBalance))
}

func TestPipeline_DuplicateDelivery(t *testing.T) {
	p := newPipeline(t)
	p.product(t, "gpt-4", "0.002")
	p.fund(t, "u1", "10")
	ctx := context.Background()

	id := p.record(t, "u1", "gpt-4", "100")
	p.drain(t)
	record := p.billed(t, id)

	// redeliver both hops as a broker would after a lost ack
	ev, err := NewGormUsageEventRepository(p.db).FindByID(ctx, id)
	require.NoError(t, err)
	require.NoError(t, p.bus.Publish(ctx, ev.ToRecordedEvent()))
	require.NoError(t, p.bus.Publish(ctx, billing.NewBillingCalculatedEvent(record)))
	p.drain(t)

	_, total, err := NewGormBillingRecordRepository(p.db).FindAll(ctx, billing.Filter{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, total, err = NewGormWalletTransactionRepository(p.db).FindByUser(ctx, "u1", shared.DefaultFilter())
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.True(t, decimal.RequireFromString("9.8").Equal(p.balance(t, "u1")))

	again, err := p.recorder.RecordUsage(ctx, usageapp.RecordUsageInput{
		UsageEventID: id.String(),
		UserID:       "u1",
		ProductID:    "gpt-4",
		Amount:       "100",
		UnitType:     string(usage.UnitTypeToken),
	})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
}
