// Package usage holds the usage event aggregate: one immutable record of a user
// consuming a billable product.
//
// Usage events are the entry point of the settlement pipeline:
//   - UsageEvent: what was consumed, by whom, and when
//   - UnitType: the unit the amount is measured in
//   - UsageRecordedEvent: the bus event published on subject usage.recorded.<product_id>
//
// Event IDs are either supplied by the caller or derived deterministically so that
// retried recordings collapse onto the same row and the same outbox entry.
package usage
