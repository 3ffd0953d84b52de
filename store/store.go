// Package store defines the storage contract for the credit engine.
//
// Reads go directly through Store. Every mutation runs inside Update, which
// gives the callback a Tx scoped to a locked set of accounts: the store
// locks the named scopes in ascending Scope.Key order, applies the callback
// all-or-nothing, and releases the locks. Two concurrent mutations against
// the same scope therefore serialize; mutations on disjoint scopes do not
// block each other.
package store

import (
	"context"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/allocation"
	"github.com/xraph/credits/event"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/transaction"
)

// Store is the unified storage interface for all credit engine entities.
type Store interface {
	// Reads.
	GetAccount(ctx context.Context, scope account.Scope) (*account.Account, error)
	GetPools(ctx context.Context, scope account.Scope) ([]*account.Pool, error)
	GetAllocation(ctx context.Context, tenantID, application string) (*allocation.Allocation, error)
	ListAllocations(ctx context.Context, tenantID string) ([]*allocation.Allocation, error)
	GetTransactionByOperation(ctx context.Context, tenantID, operationID string) (*transaction.Transaction, error)
	ListTransactions(ctx context.Context, scope account.Scope, opts transaction.ListOpts) ([]*transaction.Transaction, error)

	// ListExpiredScopes returns the scopes that own at least one active pool
	// whose expiry is at or before now. The sweeper visits each returned
	// scope with its own Update.
	ListExpiredScopes(ctx context.Context, now time.Time, limit int) ([]account.Scope, error)

	// Outbox.
	ListPendingEvents(ctx context.Context, limit int) ([]*event.Event, error)
	MarkEventPublished(ctx context.Context, eventID id.EventID, at time.Time) error
	MarkEventFailed(ctx context.Context, eventID id.EventID, reason string) error

	// Update locks the given scopes in sorted key order and runs fn inside
	// one atomic unit. If fn returns an error, nothing it did through the
	// Tx is visible afterwards.
	Update(ctx context.Context, scopes []account.Scope, fn func(tx Tx) error) error

	// Core.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the mutation surface available inside Update. All methods operate
// under the locks Update acquired; implementations must not be used after
// the callback returns.
type Tx interface {
	// Account returns the locked account for a scope, or ErrAccountNotFound
	// (from the root package) when it does not exist yet.
	Account(scope account.Scope) (*account.Account, error)
	CreateAccount(acct *account.Account) error
	SaveAccount(acct *account.Account) error

	// Pools returns all pools of a scope, every status included.
	Pools(scope account.Scope) ([]*account.Pool, error)
	InsertPool(pool *account.Pool) error
	UpdatePool(pool *account.Pool) error

	Allocation(tenantID, application string) (*allocation.Allocation, error)
	SaveAllocation(alloc *allocation.Allocation) error

	// TransactionByOperation looks up a prior transaction by its tenant and
	// operation id, the idempotency anchor for retried calls. Returns
	// (nil, nil) when no such transaction exists.
	TransactionByOperation(tenantID, operationID string) (*transaction.Transaction, error)
	InsertTransaction(txn *transaction.Transaction) error

	InsertEvent(e *event.Event) error
}
