package wallet

import (
	"context"
	"testing"

	"github.com/billflow/backend/internal/application/txn/txntest"
	"github.com/billflow/backend/internal/domain/billing"
	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/wallet"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(store *txntest.Store) *Service {
	settler := newSettler(store)
	return NewService(store, store.WalletRepo(), store.WalletTransactionRepo(), store.BillingRepo(), settler, zap.NewNop())
}

func TestService_TopUp(t *testing.T) {
	ctx := context.Background()

	t.Run("opens the wallet on first top-up", func(t *testing.T) {
		store := txntest.NewStore()
		svc := newService(store)

		res, err := svc.TopUp(ctx, TopUpInput{UserID: "u1", Amount: "25.50", Reference: "pay_1"})
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
		assert.Equal(t, "credit", res.Transaction.Type)
		assert.Equal(t, "0", res.Transaction.BalanceBefore.String())
		assert.Equal(t, "25.5", res.Transaction.BalanceAfter.String())
		assert.Equal(t, wallet.TransactionIDForTopUp("u1", "pay_1"), res.Transaction.ID)
		assert.Equal(t, "25.5", store.Balance("u1").String())

		credited := store.EventsOfType(wallet.EventTypeWalletCredited)
		require.Len(t, credited, 1)
		assert.Equal(t, "pay_1", credited[0].(*wallet.WalletCreditedEvent).Reference)
	})

	t.Run("same reference credits once", func(t *testing.T) {
		store := txntest.NewStore()
		store.PutWallet("u1", decimal.NewFromInt(1))
		svc := newService(store)
		in := TopUpInput{UserID: "u1", Amount: "10", Reference: "pay_2"}

		first, err := svc.TopUp(ctx, in)
		require.NoError(t, err)
		second, err := svc.TopUp(ctx, in)
		require.NoError(t, err)

		assert.True(t, second.Duplicate)
		assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
		assert.Equal(t, "11", store.Balance("u1").String())
		assert.Len(t, store.Transactions("u1"), 1)
	})

	t.Run("reference reused with another amount", func(t *testing.T) {
		store := txntest.NewStore()
		svc := newService(store)

		_, err := svc.TopUp(ctx, TopUpInput{UserID: "u1", Amount: "10", Reference: "pay_3"})
		require.NoError(t, err)
		_, err = svc.TopUp(ctx, TopUpInput{UserID: "u1", Amount: "20", Reference: "pay_3"})
		assert.ErrorIs(t, err, shared.ErrAlreadyExists)
		assert.Equal(t, "10", store.Balance("u1").String())
	})

	tests := []struct {
		name string
		in   TopUpInput
	}{
		{name: "missing user", in: TopUpInput{Amount: "1", Reference: "r"}},
		{name: "missing reference", in: TopUpInput{UserID: "u1", Amount: "1", Reference: "  "}},
		{name: "not a number", in: TopUpInput{UserID: "u1", Amount: "ten", Reference: "r"}},
		{name: "zero", in: TopUpInput{UserID: "u1", Amount: "0", Reference: "r"}},
		{name: "negative", in: TopUpInput{UserID: "u1", Amount: "-5", Reference: "r"}},
		{name: "too precise", in: TopUpInput{UserID: "u1", Amount: "0.000000001", Reference: "r"}},
	}
	for _, tt := range tests {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			store := txntest.NewStore()
			_, err := newService(store).TopUp(ctx, tt.in)
			assert.ErrorIs(t, err, shared.ErrValidation)
			assert.Equal(t, 0, store.Commits())
		})
	}
}

func TestService_RetrySettlement(t *testing.T) {
	ctx := context.Background()

	t.Run("settles a failed record after a top-up", func(t *testing.T) {
		store := txntest.NewStore()
		store.PutWallet("u1", decimal.NewFromInt(5))
		rec := seedRecord(t, store, "u1", "10", billing.StatusPending)
		svc := newService(store)

		err := svc.settler.Handle(ctx, billing.NewBillingCalculatedEvent(rec))
		require.ErrorIs(t, err, shared.ErrInsufficientBalance)

		resp, err := svc.RetrySettlement(ctx, rec.ID)
		require.ErrorIs(t, err, shared.ErrInsufficientBalance)
		require.NotNil(t, resp)
		assert.Equal(t, "failed", resp.BillingStatus)

		_, err = svc.TopUp(ctx, TopUpInput{UserID: "u1", Amount: "10", Reference: "pay_4"})
		require.NoError(t, err)

		resp, err = svc.RetrySettlement(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "charged", resp.Outcome)
		assert.Equal(t, "charged", resp.BillingStatus)
		require.NotNil(t, resp.WalletTransactionID)
		require.NotNil(t, resp.BalanceAfter)
		assert.Equal(t, "5", *resp.BalanceAfter)
		assert.Equal(t, "5", store.Balance("u1").String())
	})

	t.Run("charged record is left alone", func(t *testing.T) {
		store := txntest.NewStore()
		store.PutWallet("u1", decimal.NewFromInt(5))
		rec := seedRecord(t, store, "u1", "1", billing.StatusPending)
		svc := newService(store)

		_, err := svc.RetrySettlement(ctx, rec.ID)
		require.NoError(t, err)
		resp, err := svc.RetrySettlement(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, string(OutcomeAlreadySettled), resp.Outcome)
		assert.Equal(t, "4", store.Balance("u1").String())
	})

	t.Run("unknown record", func(t *testing.T) {
		_, err := newService(txntest.NewStore()).RetrySettlement(ctx, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestService_Reads(t *testing.T) {
	ctx := context.Background()
	store := txntest.NewStore()
	svc := newService(store)

	_, err := svc.GetWallet(ctx, "nobody")
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.GetWallet(ctx, "")
	assert.ErrorIs(t, err, shared.ErrValidation)

	for _, ref := range []string{"a", "b", "c"} {
		_, err := svc.TopUp(ctx, TopUpInput{UserID: "u1", Amount: "1", Reference: ref})
		require.NoError(t, err)
	}

	w, err := svc.GetWallet(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "3", w.Balance.String())
	assert.Equal(t, "USD", w.Currency)

	page, err := svc.ListTransactions(ctx, "u1", shared.Filter{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.TotalPages)

	_, err = svc.ListTransactions(ctx, " ", shared.Filter{})
	assert.ErrorIs(t, err, shared.ErrValidation)
}
