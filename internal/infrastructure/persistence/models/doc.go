// Package models contains GORM persistence models that map to database tables.
// Domain entities stay free of GORM tags; each model converts with ToDomain and a
// ...FromDomain constructor.
//
// Tables:
//   - usage_events: recorded usage (usage.go)
//   - products, subscriptions: pricing inputs (pricing.go)
//   - billing_records: priced usage and its settlement state (billing.go)
//   - wallets, wallet_transactions: balances and the ledger (wallet.go)
//   - outbox_events: transactional outbox (outbox.go)
package models
