package wallet

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/billflow/backend/internal/application/txn"
	"github.com/billflow/backend/internal/domain/billing"
	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/wallet"
	"github.com/billflow/backend/internal/infrastructure/lock"
	"github.com/billflow/backend/internal/infrastructure/logger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service exposes wallet operations outside the event pipeline
type Service struct {
	scope    txn.Scope
	wallets  wallet.Repository
	txs      wallet.TransactionRepository
	records  billing.Repository
	settler  *Settler
	validate *validator.Validate
	logger   *zap.Logger
}

// NewService creates a wallet Service. The repositories serve reads outside a transaction.
func NewService(
	scope txn.Scope,
	wallets wallet.Repository,
	txs wallet.TransactionRepository,
	records billing.Repository,
	settler *Settler,
	logger *zap.Logger,
) *Service {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})
	return &Service{
		scope:    scope,
		wallets:  wallets,
		txs:      txs,
		records:  records,
		settler:  settler,
		validate: v,
		logger:   logger,
	}
}

// TopUp credits a wallet, opening it if needed. Repeating a top-up with the same
// reference returns the original ledger entry.
func (s *Service) TopUp(ctx context.Context, in TopUpInput) (*TopUpResult, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Reference = strings.TrimSpace(in.Reference)
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(in.Amount))
	if err != nil {
		return nil, shared.NewValidationError(fmt.Sprintf("amount %q is not a decimal", in.Amount))
	}
	if !amount.IsPositive() {
		return nil, shared.NewValidationError("amount must be positive")
	}
	if amount.Exponent() < -billing.MoneyScale {
		return nil, shared.NewValidationError(fmt.Sprintf("amount has more than %d decimal places", billing.MoneyScale))
	}

	unlock, err := s.settler.locker.Lock(ctx, lock.WalletKey(in.UserID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = unlock(context.WithoutCancel(ctx)) }()

	unit := s.settler.cfg.AccountingUnit
	var result *TopUpResult
	err = s.scope.Execute(ctx, func(repos txn.Repositories) error {
		existing, err := repos.WalletTransactionRepo().FindByID(ctx, wallet.TransactionIDForTopUp(in.UserID, in.Reference))
		if err == nil {
			if !existing.Amount.Equal(amount) {
				return shared.NewDomainError(shared.ErrAlreadyExists.Code,
					fmt.Sprintf("reference %q was already used for a top-up of %s", in.Reference, existing.Amount))
			}
			result = &TopUpResult{Transaction: ToTransactionResponse(existing), Duplicate: true}
			return nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return err
		}

		w, err := s.settler.lockWallet(ctx, repos, in.UserID)
		if err != nil {
			return err
		}
		before, after, err := w.Credit(amount)
		if err != nil {
			return err
		}
		if err := repos.WalletRepo().SaveWithLock(ctx, w); err != nil {
			return err
		}
		tx, err := wallet.NewCreditTransaction(w, in.Reference, amount, before, after, unit)
		if err != nil {
			return err
		}
		created, err := repos.WalletTransactionRepo().Create(ctx, tx)
		if err != nil {
			return err
		}
		if !created {
			return fmt.Errorf("top-up %q recorded concurrently: %w", in.Reference, shared.ErrConcurrencyConflict)
		}
		if err := repos.SaveEvents(ctx, wallet.NewWalletCreditedEvent(w, tx)); err != nil {
			return err
		}
		result = &TopUpResult{Transaction: ToTransactionResponse(tx)}
		return nil
	})
	if err != nil {
		logger.L(ctx).Error("top-up failed",
			zap.String("user_id", in.UserID),
			zap.String("reference", in.Reference),
			zap.Error(err),
		)
		return nil, err
	}

	logger.L(ctx).Info("wallet topped up",
		zap.String("user_id", in.UserID),
		zap.String("reference", in.Reference),
		zap.String("amount", amount.String()),
		zap.Bool("duplicate", result.Duplicate),
	)
	return result, nil
}

// RetrySettlement settles a billing record again, typically a failed one after a top-up.
// When the balance is still short the record stays failed and the response comes back
// together with an error matching shared.ErrInsufficientBalance.
func (s *Service) RetrySettlement(ctx context.Context, billingRecordID uuid.UUID) (*SettlementResponse, error) {
	record, err := s.records.FindByID(ctx, billingRecordID)
	if err != nil {
		return nil, err
	}
	result, err := s.settler.Settle(ctx, record.ID, record.UserID, true)
	if result == nil {
		return nil, err
	}
	resp := toSettlementResponse(result)
	return &resp, err
}

// GetWallet returns a user's wallet
func (s *Service) GetWallet(ctx context.Context, userID string) (*WalletResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, shared.NewValidationError("user_id is required")
	}
	w, err := s.wallets.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp := ToWalletResponse(w)
	return &resp, nil
}

// ListTransactions pages through a user's ledger, newest first
func (s *Service) ListTransactions(ctx context.Context, userID string, filter shared.Filter) (shared.Paginated[TransactionResponse], error) {
	if strings.TrimSpace(userID) == "" {
		return shared.Paginated[TransactionResponse]{}, shared.NewValidationError("user_id is required")
	}
	filter = filter.Normalize()
	txs, total, err := s.txs.FindByUser(ctx, userID, filter)
	if err != nil {
		return shared.Paginated[TransactionResponse]{}, err
	}
	items := make([]TransactionResponse, len(txs))
	for i, t := range txs {
		items[i] = ToTransactionResponse(t)
	}
	return shared.NewPaginated(items, total, filter.Page, filter.PageSize), nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.NewValidationError(err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return shared.NewValidationError(strings.Join(msgs, "; "))
}
