package event

import (
	"github.com/billflow/backend/internal/domain/billing"
	"github.com/billflow/backend/internal/domain/usage"
	"github.com/billflow/backend/internal/domain/wallet"
)

// RegisterAllEvents registers every event the pipeline emits.
// The outbox processor and broker consumers rely on it to decode payloads.
func RegisterAllEvents(serializer *EventSerializer) {
	serializer.Register(usage.EventTypeUsageRecorded, &usage.UsageRecordedEvent{})

	serializer.Register(billing.EventTypeBillingCalculated, &billing.BillingCalculatedEvent{})
	serializer.Register(billing.EventTypeBillingError, &billing.BillingErrorEvent{})

	serializer.Register(wallet.EventTypeInsufficientBalance, &wallet.InsufficientBalanceEvent{})
	serializer.Register(wallet.EventTypeWalletDebited, &wallet.WalletDebitedEvent{})
	serializer.Register(wallet.EventTypeWalletCredited, &wallet.WalletCreditedEvent{})
}
