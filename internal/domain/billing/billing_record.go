package billing

import (
	"fmt"
	"time"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/usage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AggregateTypeBillingRecord is the aggregate type of billing events
const AggregateTypeBillingRecord = "BillingRecord"

// BillingRecord is the computed cost of a usage event and its settlement state
type BillingRecord struct {
	shared.BaseEntity
	UsageEventID             *uuid.UUID
	UserID                   string
	ProductID                string
	UsageAmount              decimal.Decimal
	UnitType                 usage.UnitType
	UnitPrice                decimal.Decimal
	Currency                 string
	CostUSD                  decimal.Decimal
	TokenEquivalent          decimal.Decimal
	IsFreeTier               bool
	IsIncludedInSubscription bool
	Status                   Status
	WalletTransactionID      *uuid.UUID
	FailureReason            string
}

// RecordIDForUsage derives the billing record id of a usage event, so that every
// attempt at billing the same usage produces the same record identity.
func RecordIDForUsage(usageEventID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(usageEventID, []byte("billing_record"))
}

// NewBillingRecord builds a record for a usage event from a computation
func NewBillingRecord(ev *usage.UsageRecordedEvent, currency string, c Computation) *BillingRecord {
	usageID := ev.UsageEventID
	return &BillingRecord{
		BaseEntity:               shared.NewBaseEntityWithID(RecordIDForUsage(usageID)),
		UsageEventID:             &usageID,
		UserID:                   ev.UserID,
		ProductID:                ev.ProductID,
		UsageAmount:              ev.Amount,
		UnitType:                 ev.UnitType,
		UnitPrice:                c.UnitPrice,
		Currency:                 currency,
		CostUSD:                  c.CostUSD,
		TokenEquivalent:          c.TokenEquivalent,
		IsFreeTier:               c.IsFreeTier,
		IsIncludedInSubscription: c.IsIncludedInSubscription,
		Status:                   c.Status,
	}
}

// CanSettle returns true if a settlement attempt may change this record
func (r *BillingRecord) CanSettle() bool {
	return r.Status == StatusPending || r.Status == StatusFailed
}

// IsZeroCharge returns true if settlement needs no wallet debit
func (r *BillingRecord) IsZeroCharge() bool {
	return r.CostUSD.IsZero() && r.TokenEquivalent.IsZero()
}

// MarkCharged links the record to its wallet transaction. txID is nil for zero charges.
// Marking an already charged record with the same transaction is a no-op.
func (r *BillingRecord) MarkCharged(txID *uuid.UUID) error {
	if r.Status == StatusCharged {
		if sameTx(r.WalletTransactionID, txID) {
			return nil
		}
		return shared.NewDomainError(shared.ErrInvalidState.Code,
			fmt.Sprintf("billing record %s is already charged by another transaction", r.ID))
	}
	if !r.CanSettle() {
		return shared.NewDomainError(shared.ErrInvalidState.Code,
			fmt.Sprintf("cannot charge billing record in status %s", r.Status))
	}
	r.Status = StatusCharged
	r.WalletTransactionID = txID
	r.FailureReason = ""
	r.Touch()
	return nil
}

// MarkFailed records a settlement failure such as an insufficient balance
func (r *BillingRecord) MarkFailed(reason string) error {
	if !r.CanSettle() {
		return shared.NewDomainError(shared.ErrInvalidState.Code,
			fmt.Sprintf("cannot fail billing record in status %s", r.Status))
	}
	r.Status = StatusFailed
	r.FailureReason = reason
	r.Touch()
	return nil
}

// NeedsLink returns true if the record is not yet linked to the given wallet transaction
func (r *BillingRecord) NeedsLink(txID uuid.UUID) bool {
	return r.Status != StatusCharged || r.WalletTransactionID == nil || *r.WalletTransactionID != txID
}

func sameTx(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ExpectedCost returns usage_amount x unit_price at money scale
func (r *BillingRecord) ExpectedCost() decimal.Decimal {
	if r.IsFreeTier || r.IsIncludedInSubscription {
		return decimal.Zero
	}
	return r.UsageAmount.Mul(r.UnitPrice).Round(MoneyScale)
}

// Period returns the calendar month containing t, in UTC
func Period(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
