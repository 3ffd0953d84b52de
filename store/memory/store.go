// Package memory provides an in-memory store, used in tests and for
// single-process deployments that don't need durability.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/allocation"
	"github.com/xraph/credits/event"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/transaction"
)

// Store keeps everything in maps keyed by scope. Update takes per-scope
// locks in sorted key order and applies the callback against staged copies,
// so a failing callback leaves no trace and disjoint scopes don't block
// each other.
type Store struct {
	mu     sync.Mutex
	closed bool

	scopeLocks map[string]*sync.Mutex

	accounts     map[string]*account.Account          // scope key → account
	pools        map[string][]*account.Pool           // scope key → pools
	allocations  map[string]*allocation.Allocation    // tenant/application → allocation
	transactions []*transaction.Transaction           // append-only
	byOperation  map[string]*transaction.Transaction  // tenant/operation id → transaction
	events       []*event.Event
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		scopeLocks:  make(map[string]*sync.Mutex),
		accounts:    make(map[string]*account.Account),
		pools:       make(map[string][]*account.Pool),
		allocations: make(map[string]*allocation.Allocation),
		byOperation: make(map[string]*transaction.Transaction),
	}
}

var _ store.Store = (*Store)(nil)

func opKey(tenantID, operationID string) string { return tenantID + "/" + operationID }

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

func (s *Store) GetAccount(_ context.Context, scope account.Scope) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[scope.Key()]
	if !ok {
		return nil, credits.ErrAccountNotFound
	}
	return cloneAccount(acct), nil
}

func (s *Store) GetPools(_ context.Context, scope account.Scope) ([]*account.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pools := s.pools[scope.Key()]
	result := make([]*account.Pool, len(pools))
	for i, p := range pools {
		result[i] = clonePool(p)
	}
	return result, nil
}

func (s *Store) GetAllocation(_ context.Context, tenantID, application string) (*allocation.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alloc, ok := s.allocations[tenantID+"/"+application]
	if !ok {
		return nil, credits.ErrAllocationNotFound
	}
	return cloneAllocation(alloc), nil
}

func (s *Store) ListAllocations(_ context.Context, tenantID string) ([]*allocation.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*allocation.Allocation, 0)
	for _, a := range s.allocations {
		if a.TenantID == tenantID {
			result = append(result, cloneAllocation(a))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Application < result[j].Application })
	return result, nil
}

func (s *Store) GetTransactionByOperation(_ context.Context, tenantID, operationID string) (*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if txn, ok := s.byOperation[opKey(tenantID, operationID)]; ok {
		return cloneTransaction(txn), nil
	}
	return nil, nil
}

func (s *Store) ListTransactions(_ context.Context, scope account.Scope, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*transaction.Transaction, 0)
	for _, t := range s.transactions {
		if t.TenantID != scope.TenantID || t.EntityID != scope.EntityID {
			continue
		}
		if opts.Type != "" && t.Type != opts.Type {
			continue
		}
		if !opts.Since.IsZero() && t.Timestamp.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && t.Timestamp.After(opts.Until) {
			continue
		}
		result = append(result, cloneTransaction(t))
	}

	// Newest first
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.After(result[j].Timestamp) })

	// Apply limit/offset
	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) ListExpiredScopes(_ context.Context, now time.Time, limit int) ([]account.Scope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	result := make([]account.Scope, 0)
	for key, pools := range s.pools {
		for _, p := range pools {
			if p.Status == account.PoolActive && p.Expired(now) {
				if !seen[key] {
					seen[key] = true
					result = append(result, account.NewScope(p.TenantID, p.EntityID))
				}
				break
			}
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Key() < result[j].Key() })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Outbox
// ──────────────────────────────────────────────────

func (s *Store) ListPendingEvents(_ context.Context, limit int) ([]*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*event.Event, 0)
	for _, e := range s.events {
		if e.Status == event.StatusPublished {
			continue
		}
		result = append(result, cloneEvent(e))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) MarkEventPublished(_ context.Context, eventID id.EventID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.events {
		if e.ID == eventID {
			e.Status = event.StatusPublished
			e.Attempts++
			e.PublishedAt = &at
			return nil
		}
	}
	return fmt.Errorf("memory: event %s not found", eventID)
}

func (s *Store) MarkEventFailed(_ context.Context, eventID id.EventID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.events {
		if e.ID == eventID {
			e.Status = event.StatusFailed
			e.Attempts++
			e.LastError = reason
			return nil
		}
	}
	return fmt.Errorf("memory: event %s not found", eventID)
}

// ──────────────────────────────────────────────────
// Update
// ──────────────────────────────────────────────────

func (s *Store) Update(_ context.Context, scopes []account.Scope, fn func(tx store.Tx) error) error {
	if len(scopes) == 0 {
		return credits.ErrInvalidInput
	}

	sorted := account.SortScopes(scopes)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return credits.ErrStoreClosed
	}
	locks := make([]*sync.Mutex, len(sorted))
	for i, scope := range sorted {
		l, ok := s.scopeLocks[scope.Key()]
		if !ok {
			l = &sync.Mutex{}
			s.scopeLocks[scope.Key()] = l
		}
		locks[i] = l
	}
	s.mu.Unlock()

	// Acquire in sorted key order so concurrent multi-scope updates can't
	// deadlock.
	for _, l := range locks {
		l.Lock()
	}
	defer func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}()

	tx := &memTx{
		store:    s,
		locked:   make(map[string]bool, len(sorted)),
		accounts: make(map[string]*account.Account),
		pools:    make(map[string][]*account.Pool),
		allocs:   make(map[string]*allocation.Allocation),
	}
	for _, scope := range sorted {
		tx.locked[scope.Key()] = true
	}

	if err := fn(tx); err != nil {
		return err
	}

	tx.commit()
	return nil
}

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return credits.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Transaction staging
// ──────────────────────────────────────────────────

// memTx stages mutations against copies of the store's entities. Nothing is
// visible to readers until commit; a callback error discards everything.
type memTx struct {
	store  *Store
	locked map[string]bool

	accounts map[string]*account.Account
	pools    map[string][]*account.Pool
	allocs   map[string]*allocation.Allocation
	txns     []*transaction.Transaction
	events   []*event.Event
}

var _ store.Tx = (*memTx)(nil)

func (t *memTx) requireLocked(key string) error {
	if !t.locked[key] {
		return fmt.Errorf("memory: scope %s not covered by this update", key)
	}
	return nil
}

func (t *memTx) Account(scope account.Scope) (*account.Account, error) {
	if err := t.requireLocked(scope.Key()); err != nil {
		return nil, err
	}
	if acct, ok := t.accounts[scope.Key()]; ok {
		return acct, nil
	}

	t.store.mu.Lock()
	stored, ok := t.store.accounts[scope.Key()]
	t.store.mu.Unlock()
	if !ok {
		return nil, credits.ErrAccountNotFound
	}

	staged := cloneAccount(stored)
	t.accounts[scope.Key()] = staged
	return staged, nil
}

func (t *memTx) CreateAccount(acct *account.Account) error {
	if err := t.requireLocked(acct.Scope().Key()); err != nil {
		return err
	}
	t.accounts[acct.Scope().Key()] = acct
	return nil
}

func (t *memTx) SaveAccount(acct *account.Account) error {
	if err := t.requireLocked(acct.Scope().Key()); err != nil {
		return err
	}
	t.accounts[acct.Scope().Key()] = acct
	return nil
}

func (t *memTx) Pools(scope account.Scope) ([]*account.Pool, error) {
	if err := t.requireLocked(scope.Key()); err != nil {
		return nil, err
	}
	if pools, ok := t.pools[scope.Key()]; ok {
		return pools, nil
	}

	t.store.mu.Lock()
	stored := t.store.pools[scope.Key()]
	t.store.mu.Unlock()

	staged := make([]*account.Pool, len(stored))
	for i, p := range stored {
		staged[i] = clonePool(p)
	}
	t.pools[scope.Key()] = staged
	return staged, nil
}

func (t *memTx) InsertPool(pool *account.Pool) error {
	key := account.NewScope(pool.TenantID, pool.EntityID).Key()
	if err := t.requireLocked(key); err != nil {
		return err
	}
	// Load existing pools into staging so commit replaces the full set.
	if _, ok := t.pools[key]; !ok {
		if _, err := t.Pools(account.NewScope(pool.TenantID, pool.EntityID)); err != nil {
			return err
		}
	}
	t.pools[key] = append(t.pools[key], pool)
	return nil
}

func (t *memTx) UpdatePool(pool *account.Pool) error {
	key := account.NewScope(pool.TenantID, pool.EntityID).Key()
	if err := t.requireLocked(key); err != nil {
		return err
	}
	for _, p := range t.pools[key] {
		if p.ID == pool.ID {
			return nil // staged pointer, already mutated in place
		}
	}
	return credits.ErrPoolNotFound
}

func (t *memTx) Allocation(tenantID, application string) (*allocation.Allocation, error) {
	key := tenantID + "/" + application
	if alloc, ok := t.allocs[key]; ok {
		return alloc, nil
	}

	t.store.mu.Lock()
	stored, ok := t.store.allocations[key]
	t.store.mu.Unlock()
	if !ok {
		return nil, credits.ErrAllocationNotFound
	}

	staged := cloneAllocation(stored)
	t.allocs[key] = staged
	return staged, nil
}

func (t *memTx) SaveAllocation(alloc *allocation.Allocation) error {
	t.allocs[alloc.TenantID+"/"+alloc.Application] = alloc
	return nil
}

func (t *memTx) TransactionByOperation(tenantID, operationID string) (*transaction.Transaction, error) {
	for _, txn := range t.txns {
		if txn.TenantID == tenantID && txn.OperationID == operationID {
			return txn, nil
		}
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if txn, ok := t.store.byOperation[opKey(tenantID, operationID)]; ok {
		return cloneTransaction(txn), nil
	}
	return nil, nil
}

func (t *memTx) InsertTransaction(txn *transaction.Transaction) error {
	if txn.OperationID != "" {
		prior, err := t.TransactionByOperation(txn.TenantID, txn.OperationID)
		if err != nil {
			return err
		}
		if prior != nil {
			return credits.ErrDuplicateOperation
		}
	}
	t.txns = append(t.txns, txn)
	return nil
}

func (t *memTx) InsertEvent(e *event.Event) error {
	t.events = append(t.events, e)
	return nil
}

// commit folds the staged state into the store. Runs with the scope locks
// still held, so readers of those scopes never observe a partial commit.
func (t *memTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, acct := range t.accounts {
		s.accounts[key] = cloneAccount(acct)
	}
	for key, pools := range t.pools {
		stored := make([]*account.Pool, len(pools))
		for i, p := range pools {
			stored[i] = clonePool(p)
		}
		s.pools[key] = stored
	}
	for key, alloc := range t.allocs {
		s.allocations[key] = cloneAllocation(alloc)
	}
	for _, txn := range t.txns {
		stored := cloneTransaction(txn)
		s.transactions = append(s.transactions, stored)
		if stored.OperationID != "" {
			s.byOperation[opKey(stored.TenantID, stored.OperationID)] = stored
		}
	}
	for _, e := range t.events {
		s.events = append(s.events, cloneEvent(e))
	}
}

// ──────────────────────────────────────────────────
// Cloning
// ──────────────────────────────────────────────────

func cloneAccount(a *account.Account) *account.Account {
	c := *a
	if a.Policy != nil {
		p := *a.Policy
		c.Policy = &p
	}
	return &c
}

func clonePool(p *account.Pool) *account.Pool {
	c := *p
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

func cloneAllocation(a *allocation.Allocation) *allocation.Allocation {
	c := *a
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

func cloneTransaction(t *transaction.Transaction) *transaction.Transaction {
	c := *t
	return &c
}

func cloneEvent(e *event.Event) *event.Event {
	c := *e
	if e.PublishedAt != nil {
		t := *e.PublishedAt
		c.PublishedAt = &t
	}
	if e.Payload != nil {
		c.Payload = append([]byte(nil), e.Payload...)
	}
	return &c
}
