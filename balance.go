package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// Balance is a point-in-time view of a scope's credits.
type Balance struct {
	Scope account.Scope `json:"scope"`

	// Available is the sum of spendable pools right now: the amount a
	// consumption can actually draw on.
	Available types.Credits `json:"available"`

	// Stored is the persisted account balance. It can briefly exceed
	// Available between a pool expiring and the sweeper retiring it.
	Stored types.Credits `json:"stored"`

	TotalGranted types.Credits `json:"total_granted"`

	// NextExpiry is the soonest expiry among spendable pools, nil when
	// nothing expires.
	NextExpiry *time.Time `json:"next_expiry,omitempty"`

	IsActive bool            `json:"is_active"`
	Pools    []*account.Pool `json:"pools,omitempty"`
}

// GetBalance returns the current balance of a scope, derived from its
// spendable pools rather than the stored total so callers never see credits
// that already expired.
func (e *Engine) GetBalance(ctx context.Context, tenantID, entityID string) (*Balance, error) {
	if err := validateScope(tenantID, entityID); err != nil {
		return nil, err
	}

	scope := account.NewScope(tenantID, entityID)

	acct, err := e.store.GetAccount(ctx, scope)
	if err != nil {
		return nil, err
	}
	pools, err := e.store.GetPools(ctx, scope)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	spendable := account.ConsumptionOrder(pools, now)

	b := &Balance{
		Scope:        scope,
		Available:    account.Spendable(pools, now),
		Stored:       acct.Available,
		TotalGranted: acct.TotalGranted,
		IsActive:     acct.IsActive,
		Pools:        spendable,
	}
	if len(spendable) > 0 {
		b.NextExpiry = account.EarliestExpiry(spendable)
	}

	return b, nil
}

// History lists a scope's ledger transactions, newest first.
func (e *Engine) History(ctx context.Context, tenantID, entityID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	if err := validateScope(tenantID, entityID); err != nil {
		return nil, err
	}
	return e.store.ListTransactions(ctx, account.NewScope(tenantID, entityID), opts)
}

// Replay folds a scope's full transaction history and checks that the
// resulting balance matches the stored one. Returns the replayed balance;
// a mismatch returns ErrReplayMismatch carrying both values, signalling
// corruption that needs manual review.
func (e *Engine) Replay(ctx context.Context, tenantID, entityID string) (types.Credits, error) {
	if err := validateScope(tenantID, entityID); err != nil {
		return 0, err
	}

	scope := account.NewScope(tenantID, entityID)

	acct, err := e.store.GetAccount(ctx, scope)
	if err != nil {
		return 0, err
	}
	txns, err := e.store.ListTransactions(ctx, scope, transaction.ListOpts{})
	if err != nil {
		return 0, err
	}

	replayed := transaction.Replay(txns)
	if replayed != acct.Available {
		return replayed, fmt.Errorf("%w: replayed %s, stored %s (tenant=%s entity=%s)",
			ErrReplayMismatch, replayed, acct.Available, tenantID, entityID)
	}

	return replayed, nil
}
