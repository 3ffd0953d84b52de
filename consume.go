package credits

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/event"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// ConsumeRequest deducts credits from a scope for a metered operation.
type ConsumeRequest struct {
	TenantID string
	EntityID string
	Amount   types.Credits

	// OperationID makes the consumption idempotent across retries.
	OperationID string

	// OperationCode names the billable operation, e.g. "inference.run".
	OperationCode string

	Actor       string
	Description string
}

// PoolDebit reports how much one pool contributed to a consumption.
type PoolDebit struct {
	PoolID id.PoolID     `json:"pool_id"`
	Amount types.Credits `json:"amount"`
}

// ConsumeResult is the outcome of Consume.
type ConsumeResult struct {
	Txn      *transaction.Transaction `json:"transaction"`
	Debits   []PoolDebit              `json:"debits,omitempty"`
	Balance  types.Credits            `json:"balance"`
	Replayed bool                     `json:"replayed"`
}

// Consume deducts credits from a scope's pools, soonest-expiring first.
// A single consumption may span several pools but always produces exactly
// one ledger transaction. Consumption is all-or-nothing: when the spendable
// total cannot cover the amount, nothing is deducted and
// ErrInsufficientCredits is returned.
func (e *Engine) Consume(ctx context.Context, req ConsumeRequest) (*ConsumeResult, error) {
	if err := validateScope(req.TenantID, req.EntityID); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, ValidationError{Field: "amount", Message: "must be positive"}
	}

	scope := account.NewScope(req.TenantID, req.EntityID)
	now := time.Now().UTC()

	var result *ConsumeResult
	var insufficient *types.Credits

	err := e.store.Update(ctx, []account.Scope{scope}, func(tx store.Tx) error {
		if req.OperationID != "" {
			prior, err := tx.TransactionByOperation(req.TenantID, req.OperationID)
			if err != nil {
				return err
			}
			if prior != nil {
				if err := matchPrior(prior, transaction.TypeConsumption, req.EntityID, req.Amount.Negate()); err != nil {
					return err
				}
				result = &ConsumeResult{Txn: prior, Balance: prior.BalanceAfter, Replayed: true}
				return nil
			}
		}

		acct, err := accountForUpdate(tx, scope, false)
		if err != nil {
			return err
		}

		pools, err := tx.Pools(scope)
		if err != nil {
			return err
		}

		spendable := account.Spendable(pools, now)
		if spendable < req.Amount {
			insufficient = &spendable
			return ErrInsufficientCredits
		}

		debits, err := debitPools(tx, pools, req.Amount, now)
		if err != nil {
			return err
		}

		before := acct.Available
		acct.Available = acct.Available.Sub(req.Amount)
		acct.Touch()
		if err := tx.SaveAccount(acct); err != nil {
			return err
		}

		txn := transaction.New(req.TenantID, req.EntityID, transaction.TypeConsumption, req.Amount.Negate(), before, acct.Available)
		if len(debits) == 1 {
			txn.PoolID = debits[0].pool.ID
		}
		txn.OperationID = req.OperationID
		txn.OperationCode = req.OperationCode
		txn.Actor = req.Actor
		txn.Description = req.Description

		// When the scope is an application allocation, its usage counter
		// moves with the pools.
		alloc, err := tx.Allocation(req.TenantID, req.EntityID)
		switch {
		case err == nil:
			alloc.Used = alloc.Used.Add(req.Amount)
			alloc.Touch()
			if err := tx.SaveAllocation(alloc); err != nil {
				return err
			}
			txn.AllocationID = alloc.ID
		case !errors.Is(err, ErrAllocationNotFound):
			return err
		}

		if err := tx.InsertTransaction(txn); err != nil {
			return err
		}

		ev, err := event.New(req.TenantID, req.EntityID, event.TypeCreditsConsumed, map[string]any{
			"transaction_id": txn.ID.String(),
			"operation_code": req.OperationCode,
			"amount":         req.Amount.Int64(),
			"balance":        acct.Available.Int64(),
			"pools_spanned":  len(debits),
		})
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ev); err != nil {
			return err
		}

		out := &ConsumeResult{Txn: txn, Balance: acct.Available}
		for _, d := range debits {
			out.Debits = append(out.Debits, PoolDebit{PoolID: d.pool.ID, Amount: d.amount})
		}
		result = out
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) && insufficient != nil {
			e.plugins.EmitInsufficientCredits(ctx, req.TenantID, req.EntityID, req.Amount.Int64(), insufficient.Int64())
			e.logger.Warn("consumption rejected",
				"tenant_id", req.TenantID,
				"entity_id", req.EntityID,
				"requested", req.Amount,
				"available", *insufficient,
			)
		}
		return nil, err
	}

	if !result.Replayed {
		e.plugins.EmitCreditsConsumed(ctx, result)
		e.logger.Debug("credits consumed",
			"tenant_id", req.TenantID,
			"entity_id", req.EntityID,
			"amount", req.Amount,
			"balance", result.Balance,
		)
	}

	return result, nil
}
