package credits

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/event"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// SweepResult summarizes one expiry sweep pass.
type SweepResult struct {
	ScopesVisited int           `json:"scopes_visited"`
	PoolsExpired  int           `json:"pools_expired"`
	AmountRetired types.Credits `json:"amount_retired"`
}

// SweepExpired retires pools whose expiry has passed. Each affected scope is
// swept in its own atomic unit: the expired pools are zeroed, the account
// balance and allocation counters drop by the retired amount, and one expiry
// transaction per swept pool records the lost amount. Sweeping is idempotent;
// a pool is retired at most once.
//
// The background worker calls this on a fixed interval, but it is safe to
// call directly, e.g. from a cron-style scheduler.
func (e *Engine) SweepExpired(ctx context.Context, now time.Time, limit int) (*SweepResult, error) {
	scopes, err := e.store.ListExpiredScopes(ctx, now, limit)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	for _, scope := range scopes {
		var retired types.Credits
		var count int

		err := e.store.Update(ctx, []account.Scope{scope}, func(tx store.Tx) error {
			var err error
			retired, count, err = retirePools(tx, scope, now, false)
			return err
		})
		if err != nil {
			// One bad scope must not starve the rest of the sweep.
			e.logger.Error("scope sweep failed",
				"tenant_id", scope.TenantID,
				"entity_id", scope.EntityID,
				"error", err,
			)
			continue
		}

		result.ScopesVisited++
		result.PoolsExpired += count
		result.AmountRetired = result.AmountRetired.Add(retired)
	}

	if result.PoolsExpired > 0 {
		e.plugins.EmitPoolsExpired(ctx, result.PoolsExpired, result.AmountRetired.Int64())
		e.logger.Info("expired pools retired",
			"scopes", result.ScopesVisited,
			"pools", result.PoolsExpired,
			"amount", result.AmountRetired,
		)
	}

	return result, nil
}

// retirePools zeroes a scope's retirable pools and settles the account,
// allocation, ledger, and outbox in the same unit. With all set every active
// pool is retired regardless of expiry; otherwise only pools already past
// their expiry. Each retired pool gets its own expiry transaction carrying
// the pool id and the amount lost. Returns the amount retired and the number
// of pools touched.
func retirePools(tx store.Tx, scope account.Scope, now time.Time, all bool) (types.Credits, int, error) {
	pools, err := tx.Pools(scope)
	if err != nil {
		return 0, 0, err
	}

	retirable := pools[:0]
	for _, p := range pools {
		if p.Status != account.PoolActive {
			continue
		}
		if !all && !p.Expired(now) {
			continue
		}
		retirable = append(retirable, p)
	}

	if len(retirable) == 0 {
		// Another sweep got here first.
		return 0, 0, nil
	}

	acct, err := tx.Account(scope)
	if err != nil {
		return 0, 0, err
	}

	// Expiry shrinks what an allocation was given, not what it used.
	alloc, err := tx.Allocation(scope.TenantID, scope.EntityID)
	if err != nil {
		if !errors.Is(err, ErrAllocationNotFound) {
			return 0, 0, err
		}
		alloc = nil
	}

	var retired types.Credits
	for _, p := range retirable {
		amount := p.Amount
		p.Amount = 0
		p.Status = account.PoolExpired
		p.Touch()
		if err := tx.UpdatePool(p); err != nil {
			return 0, 0, err
		}

		before := acct.Available
		acct.Available = acct.Available.Sub(amount)

		txn := transaction.New(scope.TenantID, scope.EntityID, transaction.TypeExpiry, amount.Negate(), before, acct.Available)
		txn.PoolID = p.ID
		if alloc != nil {
			txn.AllocationID = alloc.ID
		}
		if err := tx.InsertTransaction(txn); err != nil {
			return 0, 0, err
		}

		retired = retired.Add(amount)
	}

	acct.Touch()
	if err := tx.SaveAccount(acct); err != nil {
		return 0, 0, err
	}

	if alloc != nil {
		alloc.Allocated = alloc.Allocated.Sub(retired)
		alloc.Touch()
		if err := tx.SaveAllocation(alloc); err != nil {
			return 0, 0, err
		}
	}

	ev, err := event.New(scope.TenantID, scope.EntityID, event.TypeCreditsExpired, map[string]any{
		"pools_expired": len(retirable),
		"amount":        retired.Int64(),
		"balance":       acct.Available.Int64(),
	})
	if err != nil {
		return 0, 0, err
	}
	if err := tx.InsertEvent(ev); err != nil {
		return 0, 0, err
	}

	return retired, len(retirable), nil
}

// DisableAccount soft-disables a scope and force-expires all of its pools,
// e.g. on tenant deprovisioning. Disabled accounts reject every mutation
// until re-enabled; reads keep working so balances stay auditable. Disabling
// an already disabled account is a no-op.
func (e *Engine) DisableAccount(ctx context.Context, tenantID, entityID string) error {
	if err := validateScope(tenantID, entityID); err != nil {
		return err
	}

	scope := account.NewScope(tenantID, entityID)
	now := time.Now().UTC()
	var changed bool

	err := e.store.Update(ctx, []account.Scope{scope}, func(tx store.Tx) error {
		changed = false

		acct, err := tx.Account(scope)
		if err != nil {
			return err
		}
		if !acct.IsActive {
			return nil
		}

		// Remaining credits do not survive deprovisioning.
		if _, _, err := retirePools(tx, scope, now, true); err != nil {
			return err
		}

		acct, err = tx.Account(scope)
		if err != nil {
			return err
		}
		acct.IsActive = false
		acct.Touch()
		if err := tx.SaveAccount(acct); err != nil {
			return err
		}

		ev, err := event.New(tenantID, entityID, event.TypeAccountDisabled, map[string]any{
			"account_id": acct.ID.String(),
		})
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ev); err != nil {
			return err
		}

		changed = true
		return nil
	})
	if err != nil {
		return err
	}

	if changed {
		e.plugins.EmitAccountDisabled(ctx, tenantID, entityID)
		e.logger.Info("account disabled", "tenant_id", tenantID, "entity_id", entityID)
	}

	return nil
}

// EnableAccount reverses the disable flag. Credits retired when the account
// was disabled stay retired; re-enabling starts from a zero balance.
func (e *Engine) EnableAccount(ctx context.Context, tenantID, entityID string) error {
	if err := validateScope(tenantID, entityID); err != nil {
		return err
	}

	scope := account.NewScope(tenantID, entityID)
	return e.store.Update(ctx, []account.Scope{scope}, func(tx store.Tx) error {
		acct, err := tx.Account(scope)
		if err != nil {
			return err
		}
		if acct.IsActive {
			return nil
		}
		acct.IsActive = true
		acct.Touch()
		return tx.SaveAccount(acct)
	})
}
