// Package billing provides the billing record aggregate: the priced consequence of one usage event.
//
// Key types:
//   - BillingRecord: cost, token equivalent and settlement status of a usage event
//   - Computation: the pure pricing arithmetic applied to a usage amount and a price quote
//   - Stage: the processing stages a usage event passes through in the calculator
//
// Exactly one billing record exists per usage event; the usage_event_id is the idempotency key.
// After creation only the status, the wallet transaction link and the failure reason change.
package billing
