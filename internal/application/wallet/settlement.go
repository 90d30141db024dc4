// Package wallet settles billing records against user wallets.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/billflow/backend/internal/application/txn"
	"github.com/billflow/backend/internal/domain/billing"
	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/wallet"
	"github.com/billflow/backend/internal/infrastructure/lock"
	"github.com/billflow/backend/internal/infrastructure/logger"
	"github.com/billflow/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SettlementHandlerName is the durable consumer name of wallet settlement
const SettlementHandlerName = "wallet-settlement"

// Error codes of settlement handler results
const (
	ErrorCodeInvalidEvent        = "INVALID_EVENT"
	ErrorCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrorCodeLockUnavailable     = "LOCK_UNAVAILABLE"
	ErrorCodeTransientIO         = "TRANSIENT_IO"
	ErrorCodeRecordMissing       = "RECORD_MISSING"
)

// Outcome is the result of one settlement attempt
type Outcome string

const (
	OutcomeCharged              Outcome = "charged"
	OutcomeZeroCharge           Outcome = "zero_charge"
	OutcomeSubscriptionIncluded Outcome = "subscription_included"
	OutcomeAlreadySettled       Outcome = "already_settled"
	OutcomeLinkRepaired         Outcome = "link_repaired"
	OutcomeInsufficientBalance  Outcome = "insufficient_balance"
	OutcomeError                Outcome = "error"
)

// Metrics receives settlement outcomes
type Metrics interface {
	Settlement(ctx context.Context, outcome string, took time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) Settlement(context.Context, string, time.Duration) {}

// SettlementConfig holds the settlement tunables
type SettlementConfig struct {
	AccountingUnit wallet.AccountingUnit
	// DebitTimeout bounds the settlement transaction
	DebitTimeout time.Duration
}

// SettlementResult describes what a settlement attempt did
type SettlementResult struct {
	BillingRecordID uuid.UUID
	Outcome         Outcome
	Status          billing.Status
	TransactionID   *uuid.UUID
	BalanceAfter    *string
}

// Settler handles billing.calculated events by debiting the user's wallet.
//
// The record, wallet and ledger are changed in one transaction. The wallet row is locked
// with SELECT ... FOR UPDATE and written with a version guard, so concurrent settlements
// for one user serialize on the row and never overdraw it. At most one ledger entry
// exists per billing record, which makes redelivery safe.
type Settler struct {
	scope   txn.Scope
	locker  lock.Locker
	cfg     SettlementConfig
	metrics Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// SettlerOption configures a Settler
type SettlerOption func(*Settler)

// WithMetrics sets the settlement metrics
func WithMetrics(m Metrics) SettlerOption {
	return func(s *Settler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLocker serializes settlements per user in front of the row lock
func WithLocker(l lock.Locker) SettlerOption {
	return func(s *Settler) {
		if l != nil {
			s.locker = l
		}
	}
}

// NewSettler creates a Settler
func NewSettler(scope txn.Scope, cfg SettlementConfig, logger *zap.Logger, opts ...SettlerOption) *Settler {
	if !cfg.AccountingUnit.IsValid() {
		cfg.AccountingUnit = wallet.AccountingUnitUSD
	}
	if cfg.DebitTimeout <= 0 {
		cfg.DebitTimeout = 5 * time.Second
	}
	s := &Settler{
		scope:   scope,
		locker:  lock.NoopLocker{},
		cfg:     cfg,
		metrics: nopMetrics{},
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandlerName returns the consumer name
func (s *Settler) HandlerName() string {
	return SettlementHandlerName
}

// EventTypes returns the event types this handler is interested in
func (s *Settler) EventTypes() []string {
	return []string{billing.EventTypeBillingCalculated}
}

// Handle settles the billing record carried by a billing.calculated event.
// Insufficient balance is a permanent outcome; infrastructure failures are retryable.
func (s *Settler) Handle(ctx context.Context, event shared.DomainEvent) error {
	ev, ok := event.(*billing.BillingCalculatedEvent)
	if !ok {
		s.logger.Error("unexpected event type",
			zap.String("expected", billing.EventTypeBillingCalculated),
			zap.String("actual", event.EventType()),
		)
		return shared.Permanent(ErrorCodeInvalidEvent,
			fmt.Errorf("unexpected event type: expected %s, got %s", billing.EventTypeBillingCalculated, event.EventType()))
	}
	if err := ev.Validate(); err != nil {
		logger.WithTraceContext(ctx, s.logger).Error("invalid billing.calculated payload",
			zap.String("event_id", ev.EventID().String()),
			zap.Error(err),
		)
		return shared.Permanent(ErrorCodeInvalidEvent, err)
	}

	ctx, span := telemetry.StartConsumerSpan(ctx, "wallet.settle",
		attribute.String("billing_record_id", ev.BillingRecordID.String()),
		attribute.String("user_id", ev.UserID),
		attribute.Int("delivery_attempt", shared.DeliveryAttempt(ctx)),
	)
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	if ev.BillingStatus == billing.StatusSubscriptionIncluded {
		s.metrics.Settlement(ctx, string(OutcomeSubscriptionIncluded), 0)
		return nil
	}

	telemetry.WithProfilingLabels(ctx, telemetry.StageLabels("settle", ev.ProductID), func(ctx context.Context) {
		_, err = s.Settle(ctx, ev.BillingRecordID, ev.UserID, false)
	})
	if err == nil {
		return nil
	}
	return classify(err)
}

// classify maps a settlement error to a handler result
func classify(err error) error {
	switch {
	case errors.Is(err, shared.ErrInsufficientBalance):
		return shared.Permanent(ErrorCodeInsufficientBalance, err)
	case errors.Is(err, lock.ErrNotAcquired):
		return shared.Retryable(ErrorCodeLockUnavailable, err)
	case errors.Is(err, shared.ErrNotFound):
		return shared.Permanent(ErrorCodeRecordMissing, err)
	case errors.Is(err, shared.ErrInvalidState), errors.Is(err, shared.ErrValidation):
		return shared.Permanent(ErrorCodeInvalidEvent, err)
	default:
		return shared.Retryable(ErrorCodeTransientIO, err)
	}
}

// Settle debits the wallet for one billing record. Failed records are only retried when
// manual is set. An insufficient balance is committed as a failed record and also returned
// as an error wrapping shared.ErrInsufficientBalance.
func (s *Settler) Settle(ctx context.Context, billingRecordID uuid.UUID, userID string, manual bool) (*SettlementResult, error) {
	start := s.now()
	log := logger.WithTraceContext(ctx, s.logger).With(
		zap.String("billing_record_id", billingRecordID.String()),
		zap.String("user_id", userID),
		zap.Bool("manual", manual),
	)

	unlock, err := s.locker.Lock(ctx, lock.WalletKey(userID))
	if err != nil {
		s.metrics.Settlement(ctx, string(OutcomeError), s.now().Sub(start))
		log.Warn("wallet lock not acquired", zap.Error(err))
		return nil, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release wallet lock", zap.Error(err))
		}
	}()

	txCtx, cancel := context.WithTimeout(ctx, s.cfg.DebitTimeout)
	defer cancel()

	var out *txOutcome
	err = s.scope.Execute(txCtx, func(repos txn.Repositories) error {
		var err error
		out, err = s.settleInTx(txCtx, repos, billingRecordID, manual)
		return err
	})
	took := s.now().Sub(start)
	if err != nil {
		s.metrics.Settlement(ctx, string(OutcomeError), took)
		log.Error("settlement failed", zap.Error(err))
		return nil, err
	}
	result, shortfall := out.result, out.shortfall

	s.metrics.Settlement(ctx, string(result.Outcome), took)
	fields := []zap.Field{
		zap.String("outcome", string(result.Outcome)),
		zap.String("status", result.Status.String()),
		zap.Duration("took", took),
	}
	if result.TransactionID != nil {
		fields = append(fields, zap.String("wallet_transaction_id", result.TransactionID.String()))
	}

	if shortfall != nil {
		log.Warn("insufficient balance, billing record failed", append(fields,
			zap.String("required", shortfall.Required.String()),
			zap.String("available", shortfall.Available.String()),
		)...)
		return result, shortfall
	}
	log.Info("billing record settled", fields...)
	return result, nil
}

type txOutcome struct {
	result    *SettlementResult
	shortfall *wallet.InsufficientBalanceError
}

func (s *Settler) settleInTx(ctx context.Context, repos txn.Repositories, billingRecordID uuid.UUID, manual bool) (*txOutcome, error) {
	record, err := repos.BillingRepo().FindByID(ctx, billingRecordID)
	if err != nil {
		return nil, err
	}
	res := &SettlementResult{BillingRecordID: record.ID, Status: record.Status}
	out := &txOutcome{result: res}

	if record.Status == billing.StatusSubscriptionIncluded {
		res.Outcome = OutcomeSubscriptionIncluded
		return out, nil
	}

	existing, err := repos.WalletTransactionRepo().FindByBillingRecordID(ctx, record.ID)
	switch {
	case err == nil:
		res.TransactionID = &existing.ID
		res.Outcome = OutcomeAlreadySettled
		if record.NeedsLink(existing.ID) {
			if err := record.MarkCharged(&existing.ID); err != nil {
				return nil, err
			}
			if err := repos.BillingRepo().UpdateSettlement(ctx, record); err != nil {
				return nil, err
			}
			res.Outcome = OutcomeLinkRepaired
		}
		res.Status = record.Status
		return out, nil
	case !errors.Is(err, shared.ErrNotFound):
		return nil, err
	}

	if record.Status == billing.StatusCharged || (record.Status == billing.StatusFailed && !manual) {
		res.Outcome = OutcomeAlreadySettled
		return out, nil
	}

	if record.IsZeroCharge() {
		if err := record.MarkCharged(nil); err != nil {
			return nil, err
		}
		if err := repos.BillingRepo().UpdateSettlement(ctx, record); err != nil {
			return nil, err
		}
		res.Outcome = OutcomeZeroCharge
		res.Status = record.Status
		return out, nil
	}

	unit := s.cfg.AccountingUnit
	amount := unit.AmountOf(record.CostUSD, record.TokenEquivalent)

	w, err := s.lockWallet(ctx, repos, record.UserID)
	if err != nil {
		return nil, err
	}

	before, after, err := w.Debit(amount)
	var shortfall *wallet.InsufficientBalanceError
	if errors.As(err, &shortfall) {
		if err := record.MarkFailed(shortfall.Error()); err != nil {
			return nil, err
		}
		if err := repos.BillingRepo().UpdateSettlement(ctx, record); err != nil {
			return nil, err
		}
		event := wallet.NewInsufficientBalanceEvent(w, record.ID, shortfall.Required, shortfall.Available, unit)
		if err := repos.SaveEvents(ctx, event); err != nil {
			return nil, err
		}
		res.Outcome = OutcomeInsufficientBalance
		res.Status = record.Status
		out.shortfall = shortfall
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	if err := repos.WalletRepo().SaveWithLock(ctx, w); err != nil {
		return nil, err
	}
	tx := wallet.NewDebitTransaction(w, record.ID, amount, before, after, unit)
	created, err := repos.WalletTransactionRepo().Create(ctx, tx)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, fmt.Errorf("ledger entry for billing record %s already exists: %w", record.ID, shared.ErrConcurrencyConflict)
	}
	if err := record.MarkCharged(&tx.ID); err != nil {
		return nil, err
	}
	if err := repos.BillingRepo().UpdateSettlement(ctx, record); err != nil {
		return nil, err
	}
	if err := repos.SaveEvents(ctx, wallet.NewWalletDebitedEvent(w, tx)); err != nil {
		return nil, err
	}

	balance := after.String()
	res.Outcome = OutcomeCharged
	res.Status = record.Status
	res.TransactionID = &tx.ID
	res.BalanceAfter = &balance
	return out, nil
}

// lockWallet loads the user's wallet for update, opening an empty one on first use
func (s *Settler) lockWallet(ctx context.Context, repos txn.Repositories, userID string) (*wallet.Wallet, error) {
	w, err := repos.WalletRepo().FindByUserIDForUpdate(ctx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	w, err = wallet.NewWallet(userID, currencyFor(s.cfg.AccountingUnit))
	if err != nil {
		return nil, err
	}
	if err := repos.WalletRepo().Create(ctx, w); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			return nil, fmt.Errorf("wallet opened concurrently: %w", shared.ErrConcurrencyConflict)
		}
		return nil, err
	}
	return w, nil
}

func currencyFor(unit wallet.AccountingUnit) string {
	if unit == wallet.AccountingUnitToken {
		return "TOKEN"
	}
	return "USD"
}

var _ shared.NamedHandler = (*Settler)(nil)
