// Package account defines credit accounts and the credit pools that compose
// their balances, plus the pool selection order used for consumption.
package account

import (
	"sort"
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Scope identifies one balance holder: a (tenant, entity) pair. The entity
// is an organization-level ledger or a per-application sub-ledger; both are
// plain accounts at the storage level.
type Scope struct {
	TenantID string `json:"tenant_id"`
	EntityID string `json:"entity_id"`
}

// NewScope creates a Scope for a tenant and entity.
func NewScope(tenantID, entityID string) Scope {
	return Scope{TenantID: tenantID, EntityID: entityID}
}

// Key returns the canonical lock/sort key for the scope. Cross-scope
// operations acquire scope locks in ascending Key order.
func (s Scope) Key() string { return s.TenantID + "/" + s.EntityID }

// IsZero reports whether the scope is unset.
func (s Scope) IsZero() bool { return s.TenantID == "" && s.EntityID == "" }

// SortScopes orders scopes by Key and drops duplicates. Mutating operations
// pass their scopes through here so locks are always taken in the same
// global order.
func SortScopes(scopes []Scope) []Scope {
	sorted := make([]Scope, 0, len(scopes))
	seen := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		if !seen[s.Key()] {
			seen[s.Key()] = true
			sorted = append(sorted, s)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key() < sorted[j].Key() })
	return sorted
}

// Source describes where a credit pool came from.
type Source string

// Known pool sources. The set is open: stores persist the raw string.
const (
	SourceTrial       Source = "trial"
	SourcePurchase    Source = "purchase"
	SourceSeasonal    Source = "seasonal"
	SourcePromotional Source = "promotional"
	SourceTransfer    Source = "transfer"
	SourceAllocation  Source = "allocation"
	SourceOperational Source = "operational"
)

// PoolStatus is the lifecycle state of a pool.
type PoolStatus string

// Pool lifecycle: active → exhausted (fully consumed) or active → expired
// (past expiry at sweep time). Both end states are terminal.
const (
	PoolActive    PoolStatus = "active"
	PoolExhausted PoolStatus = "exhausted"
	PoolExpired   PoolStatus = "expired"
)

// Policy holds per-account behavior knobs.
type Policy struct {
	// AllowOverage is reserved for accounts that may consume past zero.
	// The engine currently rejects such consumption regardless; the flag is
	// persisted so enabling it later does not need a schema change.
	AllowOverage bool `json:"allow_overage"`

	// DefaultExpiry is applied to grants that carry no explicit expiry.
	// Zero means grants without expiry never expire.
	DefaultExpiry time.Duration `json:"default_expiry"`
}

// Account is one balance holder. Available must always equal the sum of its
// active, non-expired pools.
type Account struct {
	types.Entity

	ID           id.AccountID  `json:"id"`
	TenantID     string        `json:"tenant_id"`
	EntityID     string        `json:"entity_id"`
	Available    types.Credits `json:"available"`
	TotalGranted types.Credits `json:"total_granted"`
	IsActive     bool          `json:"is_active"`
	Policy       *Policy       `json:"policy,omitempty"`
}

// New creates an active account for a scope.
func New(scope Scope) *Account {
	return &Account{
		Entity:   types.NewEntity(),
		ID:       id.NewAccountID(),
		TenantID: scope.TenantID,
		EntityID: scope.EntityID,
		IsActive: true,
	}
}

// Scope returns the account's scope.
func (a *Account) Scope() Scope { return NewScope(a.TenantID, a.EntityID) }

// Pool is an immutable grant of credits, consumed in place. Amount never
// goes below zero; it only decreases via consumption, expiry, or
// transfer-out, and is fixed at creation otherwise.
type Pool struct {
	types.Entity

	ID        id.PoolID     `json:"id"`
	AccountID id.AccountID  `json:"account_id"`
	TenantID  string        `json:"tenant_id"`
	EntityID  string        `json:"entity_id"`
	Source    Source        `json:"source"`
	BatchID   string        `json:"batch_id,omitempty"`
	Amount    types.Credits `json:"amount"`
	Granted   types.Credits `json:"granted"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
	Status    PoolStatus    `json:"status"`
}

// NewPool creates an active pool holding amount credits for the account.
func NewPool(acct *Account, source Source, batchID string, amount types.Credits, expiresAt *time.Time) *Pool {
	return &Pool{
		Entity:    types.NewEntity(),
		ID:        id.NewPoolID(),
		AccountID: acct.ID,
		TenantID:  acct.TenantID,
		EntityID:  acct.EntityID,
		Source:    source,
		BatchID:   batchID,
		Amount:    amount,
		Granted:   amount,
		ExpiresAt: expiresAt,
		Status:    PoolActive,
	}
}

// Expired reports whether the pool's expiry has passed at the given time.
// Pools without an expiry never expire.
func (p *Pool) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

// Spendable reports whether the pool can fund consumption at the given time.
func (p *Pool) Spendable(now time.Time) bool {
	return p.Status == PoolActive && p.Amount.IsPositive() && !p.Expired(now)
}

// ConsumptionOrder filters pools to those spendable at now and sorts them
// FIFO-by-expiry: soonest-expiring first, pools without expiry last. Ties
// break on creation time then pool id so the order is deterministic.
func ConsumptionOrder(pools []*Pool, now time.Time) []*Pool {
	ordered := make([]*Pool, 0, len(pools))
	for _, p := range pools {
		if p.Spendable(now) {
			ordered = append(ordered, p)
		}
	}

	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt == nil:
			// fall through to tie break
		case a.ExpiresAt == nil:
			return false
		case b.ExpiresAt == nil:
			return true
		case !a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})

	return ordered
}

// SelectPool returns the pool a single-pool consumption of required credits
// should draw from: the first pool in consumption order whose amount covers
// the requirement, else the earliest-expiring spendable pool (the caller
// then spans multiple pools). Returns nil when nothing is spendable.
func SelectPool(pools []*Pool, required types.Credits, now time.Time) *Pool {
	ordered := ConsumptionOrder(pools, now)
	if len(ordered) == 0 {
		return nil
	}
	for _, p := range ordered {
		if p.Amount >= required {
			return p
		}
	}
	return ordered[0]
}

// Spendable sums the amounts of all pools spendable at now. This is the
// authoritative available balance for consumption decisions; the stored
// Account.Available may briefly exceed it between a pool expiring and the
// sweeper retiring it.
func Spendable(pools []*Pool, now time.Time) types.Credits {
	var total types.Credits
	for _, p := range pools {
		if p.Spendable(now) {
			total += p.Amount
		}
	}
	return total
}

// EarliestExpiry returns the soonest expiry among the given pools, or nil
// when none of them expire. Balance views report it as the next expiry.
func EarliestExpiry(pools []*Pool) *time.Time {
	var earliest *time.Time
	for _, p := range pools {
		if p.ExpiresAt == nil {
			continue
		}
		if earliest == nil || p.ExpiresAt.Before(*earliest) {
			t := *p.ExpiresAt
			earliest = &t
		}
	}
	return earliest
}
