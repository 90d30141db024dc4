// Package txntest provides an in-memory txn.Scope for application tests.
package txntest

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/billflow/backend/internal/application/txn"
	"github.com/billflow/backend/internal/domain/billing"
	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/domain/usage"
	"github.com/billflow/backend/internal/domain/wallet"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store keeps every table in memory. Execute serializes units of work and restores
// the previous state when fn fails, which mirrors a rolled back transaction.
type Store struct {
	mu sync.Mutex

	usage    map[uuid.UUID]*usage.UsageEvent
	records  map[uuid.UUID]*billing.BillingRecord
	wallets  map[string]*wallet.Wallet
	txs      map[uuid.UUID]*wallet.Transaction
	events   []shared.DomainEvent
	eventIDs map[uuid.UUID]bool

	failures map[string][]error
	commits  int
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		usage:    map[uuid.UUID]*usage.UsageEvent{},
		records:  map[uuid.UUID]*billing.BillingRecord{},
		wallets:  map[string]*wallet.Wallet{},
		txs:      map[uuid.UUID]*wallet.Transaction{},
		eventIDs: map[uuid.UUID]bool{},
		failures: map[string][]error{},
	}
}

// FailOn makes the next len(errs) calls of op return those errors in order.
// Ops are named "<repo>.<Method>", e.g. "billing.Create" or "outbox.SaveEvents".
func (s *Store) FailOn(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], errs...)
}

func (s *Store) fail(op string) error {
	queue := s.failures[op]
	if len(queue) == 0 {
		return nil
	}
	s.failures[op] = queue[1:]
	return queue[0]
}

type snapshot struct {
	usage    map[uuid.UUID]*usage.UsageEvent
	records  map[uuid.UUID]*billing.BillingRecord
	wallets  map[string]*wallet.Wallet
	txs      map[uuid.UUID]*wallet.Transaction
	events   []shared.DomainEvent
	eventIDs map[uuid.UUID]bool
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		usage:    maps.Clone(s.usage),
		records:  maps.Clone(s.records),
		wallets:  maps.Clone(s.wallets),
		txs:      maps.Clone(s.txs),
		events:   slices.Clone(s.events),
		eventIDs: maps.Clone(s.eventIDs),
	}
}

func (s *Store) restore(snap snapshot) {
	s.usage = snap.usage
	s.records = snap.records
	s.wallets = snap.wallets
	s.txs = snap.txs
	s.events = snap.events
	s.eventIDs = snap.eventIDs
}

// Execute implements txn.Scope
func (s *Store) Execute(ctx context.Context, fn func(repos txn.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := s.snapshot()
	if err := fn(&repos{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	s.commits++
	return nil
}

// Commits returns the number of successful units of work
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Events returns the committed outbox events in insertion order
func (s *Store) Events() []shared.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

// EventsOfType returns committed outbox events with the given type
func (s *Store) EventsOfType(eventType string) []shared.DomainEvent {
	var out []shared.DomainEvent
	for _, e := range s.Events() {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// UsageRepo returns a repository that locks per call, for use outside Execute
func (s *Store) UsageRepo() usage.Repository { return &usageRepo{s: s, lock: true} }

// BillingRepo returns a repository that locks per call, for use outside Execute
func (s *Store) BillingRepo() billing.Repository { return &billingRepo{s: s, lock: true} }

// WalletRepo returns a repository that locks per call, for use outside Execute
func (s *Store) WalletRepo() wallet.Repository { return &walletRepo{s: s, lock: true} }

// WalletTransactionRepo returns a repository that locks per call, for use outside Execute
func (s *Store) WalletTransactionRepo() wallet.TransactionRepository {
	return &walletTxRepo{s: s, lock: true}
}

// PutWallet seeds a wallet with the given balance
func (s *Store) PutWallet(userID string, balance decimal.Decimal) *wallet.Wallet {
	w, err := wallet.NewWallet(userID, "USD")
	if err != nil {
		panic(err)
	}
	w.Balance = balance
	w.MarkPersisted()
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *w
	s.wallets[userID] = &c
	return w
}

// PutBillingRecord seeds a billing record
func (s *Store) PutBillingRecord(r *billing.BillingRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *r
	s.records[r.ID] = &c
}

// Balance returns the stored balance of a user's wallet
func (s *Store) Balance(userID string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[userID]; ok {
		return w.Balance
	}
	return decimal.Zero
}

// Transactions returns every ledger entry of a user, oldest first
func (s *Store) Transactions(userID string) []*wallet.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*wallet.Transaction
	for _, t := range s.txs {
		if t.UserID == userID {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type repos struct {
	s *Store
}

func (r *repos) UsageRepo() usage.Repository     { return &usageRepo{s: r.s} }
func (r *repos) BillingRepo() billing.Repository { return &billingRepo{s: r.s} }
func (r *repos) WalletRepo() wallet.Repository   { return &walletRepo{s: r.s} }
func (r *repos) WalletTransactionRepo() wallet.TransactionRepository {
	return &walletTxRepo{s: r.s}
}

func (r *repos) SaveEvents(_ context.Context, events ...shared.DomainEvent) error {
	if err := r.s.fail("outbox.SaveEvents"); err != nil {
		return err
	}
	for _, e := range events {
		if r.s.eventIDs[e.EventID()] {
			continue
		}
		r.s.eventIDs[e.EventID()] = true
		r.s.events = append(r.s.events, e)
	}
	return nil
}

// guard takes the store lock for repositories used outside Execute
func guard(s *Store, lock bool) func() {
	if !lock {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type usageRepo struct {
	s    *Store
	lock bool
}

func (r *usageRepo) Create(_ context.Context, e *usage.UsageEvent) (bool, error) {
	defer guard(r.s, r.lock)()
	if err := r.s.fail("usage.Create"); err != nil {
		return false, err
	}
	if _, ok := r.s.usage[e.ID]; ok {
		return false, nil
	}
	c := *e
	r.s.usage[e.ID] = &c
	return true, nil
}

func (r *usageRepo) FindByID(_ context.Context, id uuid.UUID) (*usage.UsageEvent, error) {
	defer guard(r.s, r.lock)()
	e, ok := r.s.usage[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (r *usageRepo) FindByUser(_ context.Context, userID string, filter shared.Filter) ([]*usage.UsageEvent, int64, error) {
	defer guard(r.s, r.lock)()
	var all []*usage.UsageEvent
	for _, e := range r.s.usage {
		if e.UserID == userID {
			c := *e
			all = append(all, &c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return page(all, filter), int64(len(all)), nil
}

func (r *usageRepo) FindRecordedBefore(_ context.Context, before time.Time, limit int) ([]*usage.UsageEvent, error) {
	defer guard(r.s, r.lock)()
	var out []*usage.UsageEvent
	for _, e := range r.s.usage {
		if e.CreatedAt.Before(before) {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *usageRepo) DeleteByIDs(_ context.Context, ids []uuid.UUID) (int64, error) {
	defer guard(r.s, r.lock)()
	if err := r.s.fail("usage.DeleteByIDs"); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		if _, ok := r.s.usage[id]; ok {
			delete(r.s.usage, id)
			n++
		}
	}
	return n, nil
}

type billingRepo struct {
	s    *Store
	lock bool
}

func (r *billingRepo) Create(_ context.Context, rec *billing.BillingRecord) (bool, error) {
	defer guard(r.s, r.lock)()
	if err := r.s.fail("billing.Create"); err != nil {
		return false, err
	}
	if _, ok := r.s.records[rec.ID]; ok {
		return false, nil
	}
	if rec.UsageEventID != nil {
		for _, existing := range r.s.records {
			if existing.UsageEventID != nil && *existing.UsageEventID == *rec.UsageEventID {
				return false, nil
			}
		}
	}
	c := *rec
	r.s.records[rec.ID] = &c
	return true, nil
}

func (r *billingRepo) FindByID(_ context.Context, id uuid.UUID) (*billing.BillingRecord, error) {
	defer guard(r.s, r.lock)()
	if err := r.s.fail("billing.FindByID"); err != nil {
		return nil, err
	}
	rec, ok := r.s.records[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (r *billingRepo) FindByUsageEventID(_ context.Context, usageEventID uuid.UUID) (*billing.BillingRecord, error) {
	defer guard(r.s, r.lock)()
	if err := r.s.fail("billing.FindByUsageEventID"); err != nil {
		return nil, err
	}
	for _, rec := range r.s.records {
		if rec.UsageEventID != nil && *rec.UsageEventID == usageEventID {
			c := *rec
			return &c, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *billingRepo) FindAll(_ context.Context, filter billing.Filter) ([]*billing.BillingRecord, int64, error) {
	defer guard(r.s, r.lock)()
	var all []*billing.BillingRecord
	for _, rec := range r.s.records {
		if filter.UserID != "" && rec.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		c := *rec
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return page(all, filter.Filter), int64(len(all)), nil
}

func (r *billingRepo) UpdateSettlement(_ context.Context, rec *billing.BillingRecord) error {
	defer guard(r.s, r.lock)()
	if err := r.s.fail("billing.UpdateSettlement"); err != nil {
		return err
	}
	existing, ok := r.s.records[rec.ID]
	if !ok {
		return shared.ErrNotFound
	}
	c := *existing
	c.Status = rec.Status
	c.WalletTransactionID = rec.WalletTransactionID
	c.FailureReason = rec.FailureReason
	c.UpdatedAt = rec.UpdatedAt
	r.s.records[rec.ID] = &c
	return nil
}

func (r *billingRepo) SumUsage(_ context.Context, userID, productID string, from, to time.Time) (decimal.Decimal, error) {
	defer guard(r.s, r.lock)()
	if err := r.s.fail("billing.SumUsage"); err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, rec := range r.s.records {
		if rec.UserID == userID && rec.ProductID == productID &&
			!rec.CreatedAt.Before(from) && rec.CreatedAt.Before(to) {
			total = total.Add(rec.UsageAmount)
		}
	}
	return total, nil
}

func (r *billingRepo) FindPendingBefore(_ context.Context, before time.Time, limit int) ([]*billing.BillingRecord, error) {
	defer guard(r.s, r.lock)()
	var out []*billing.BillingRecord
	for _, rec := range r.s.records {
		if rec.Status == billing.StatusPending && rec.CreatedAt.Before(before) {
			c := *rec
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type walletRepo struct {
	s    *Store
	lock bool
}

func (r *walletRepo) FindByUserID(_ context.Context, userID string) (*wallet.Wallet, error) {
	defer guard(r.s, r.lock)()
	w, ok := r.s.wallets[userID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	c := *w
	return &c, nil
}

func (r *walletRepo) FindByUserIDForUpdate(_ context.Context, userID string) (*wallet.Wallet, error) {
	defer guard(r.s, r.lock)()
	if err := r.s.fail("wallet.FindByUserIDForUpdate"); err != nil {
		return nil, err
	}
	w, ok := r.s.wallets[userID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	c := *w
	return &c, nil
}

func (r *walletRepo) Create(_ context.Context, w *wallet.Wallet) error {
	defer guard(r.s, r.lock)()
	if _, ok := r.s.wallets[w.UserID]; ok {
		return shared.ErrAlreadyExists
	}
	w.MarkPersisted()
	c := *w
	r.s.wallets[w.UserID] = &c
	return nil
}

func (r *walletRepo) SaveWithLock(_ context.Context, w *wallet.Wallet) error {
	defer guard(r.s, r.lock)()
	if err := r.s.fail("wallet.SaveWithLock"); err != nil {
		return err
	}
	existing, ok := r.s.wallets[w.UserID]
	if !ok || existing.Version != w.PersistedVersion() {
		return shared.ErrConcurrencyConflict
	}
	w.MarkPersisted()
	c := *w
	r.s.wallets[w.UserID] = &c
	return nil
}

type walletTxRepo struct {
	s    *Store
	lock bool
}

func (r *walletTxRepo) Create(_ context.Context, t *wallet.Transaction) (bool, error) {
	defer guard(r.s, r.lock)()
	if err := r.s.fail("walletTx.Create"); err != nil {
		return false, err
	}
	if _, ok := r.s.txs[t.ID]; ok {
		return false, nil
	}
	if t.BillingRecordID != nil {
		for _, existing := range r.s.txs {
			if existing.BillingRecordID != nil && *existing.BillingRecordID == *t.BillingRecordID {
				return false, nil
			}
		}
	}
	c := *t
	r.s.txs[t.ID] = &c
	return true, nil
}

func (r *walletTxRepo) FindByID(_ context.Context, id uuid.UUID) (*wallet.Transaction, error) {
	defer guard(r.s, r.lock)()
	t, ok := r.s.txs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r *walletTxRepo) FindByBillingRecordID(_ context.Context, billingRecordID uuid.UUID) (*wallet.Transaction, error) {
	defer guard(r.s, r.lock)()
	if err := r.s.fail("walletTx.FindByBillingRecordID"); err != nil {
		return nil, err
	}
	for _, t := range r.s.txs {
		if t.BillingRecordID != nil && *t.BillingRecordID == billingRecordID {
			c := *t
			return &c, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *walletTxRepo) FindByUser(_ context.Context, userID string, filter shared.Filter) ([]*wallet.Transaction, int64, error) {
	defer guard(r.s, r.lock)()
	var all []*wallet.Transaction
	for _, t := range r.s.txs {
		if t.UserID == userID {
			c := *t
			all = append(all, &c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return page(all, filter), int64(len(all)), nil
}

func page[T any](items []T, filter shared.Filter) []T {
	f := filter.Normalize()
	start := f.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := min(start+f.PageSize, len(items))
	return items[start:end]
}

var (
	_ txn.Scope        = (*Store)(nil)
	_ txn.Repositories = (*repos)(nil)
)
