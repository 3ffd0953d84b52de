package credits

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/allocation"
	"github.com/xraph/credits/event"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// AllocateRequest assigns credits from a tenant's source scope to one of its
// applications.
type AllocateRequest struct {
	TenantID       string
	SourceEntityID string
	Application    string
	Amount         types.Credits

	// Kind selects carve-out or top-up semantics. When unset it is derived
	// from CreditType.
	Kind allocation.GrantKind

	// CreditType is the caller-facing classification ("paid", "bulk",
	// "seasonal", "promotional", or anything else for carve-outs).
	CreditType string

	Purpose       string
	ExpiresAt     *time.Time
	AutoReplenish bool
	OperationID   string
	Actor         string
}

// AllocateResult is the outcome of Allocate.
type AllocateResult struct {
	Allocation *allocation.Allocation   `json:"allocation"`
	SourceTxn  *transaction.Transaction `json:"source_transaction,omitempty"`
	TargetTxn  *transaction.Transaction `json:"target_transaction"`
	Replayed   bool                     `json:"replayed"`
}

// sourceForCreditType maps a caller credit type to the pool source recorded
// on the credited pool.
func sourceForCreditType(creditType string) account.Source {
	switch creditType {
	case "seasonal":
		return account.SourceSeasonal
	case "promotional":
		return account.SourcePromotional
	case "paid", "bulk":
		return account.SourcePurchase
	default:
		return account.SourceAllocation
	}
}

// Allocate assigns credits to an application's sub-ledger.
//
// Carve-out allocations debit the source scope's pools FIFO-by-expiry and
// credit the application, so the tenant's total is unchanged. Top-up
// allocations mint new credits into both the source scope and the
// application, modeling externally funded grants. Both variants update the
// application's allocation counters and write paired ledger transactions
// in one atomic unit.
func (e *Engine) Allocate(ctx context.Context, req AllocateRequest) (*AllocateResult, error) {
	if err := validateScope(req.TenantID, req.SourceEntityID); err != nil {
		return nil, err
	}
	if err := e.checkApplication(req.Application); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, ValidationError{Field: "amount", Message: "must be positive"}
	}
	if req.Application == req.SourceEntityID {
		return nil, ValidationError{Field: "application", Message: "must differ from source entity"}
	}

	kind := req.Kind
	if kind == "" {
		kind = allocation.KindForCreditType(req.CreditType)
	}
	if !kind.Valid() {
		return nil, ValidationError{Field: "kind", Message: "unknown grant kind"}
	}

	sourceScope := account.NewScope(req.TenantID, req.SourceEntityID)
	targetScope := account.NewScope(req.TenantID, req.Application)
	now := time.Now().UTC()

	var result *AllocateResult
	var insufficient *types.Credits

	err := e.store.Update(ctx, []account.Scope{sourceScope, targetScope}, func(tx store.Tx) error {
		if req.OperationID != "" {
			prior, err := tx.TransactionByOperation(req.TenantID, req.OperationID)
			if err != nil {
				return err
			}
			if prior != nil {
				if err := matchPrior(prior, transaction.TypeAllocation, req.Application, req.Amount); err != nil {
					return err
				}
				alloc, err := tx.Allocation(req.TenantID, req.Application)
				if err != nil {
					return err
				}
				result = &AllocateResult{Allocation: alloc, TargetTxn: prior, Replayed: true}
				return nil
			}
		}

		srcAcct, err := accountForUpdate(tx, sourceScope, kind == allocation.KindTopUp)
		if err != nil {
			return err
		}

		alloc, err := tx.Allocation(req.TenantID, req.Application)
		if err != nil {
			if !errors.Is(err, ErrAllocationNotFound) {
				return err
			}
			alloc = allocation.New(req.TenantID, req.Application, req.SourceEntityID, req.Purpose)
		}

		var srcTxn *transaction.Transaction

		switch kind {
		case allocation.KindCarveOut:
			pools, err := tx.Pools(sourceScope)
			if err != nil {
				return err
			}
			spendable := account.Spendable(pools, now)
			if spendable < req.Amount {
				insufficient = &spendable
				return ErrInsufficientCredits
			}

			if _, err := debitPools(tx, pools, req.Amount, now); err != nil {
				return err
			}

			before := srcAcct.Available
			srcAcct.Available = srcAcct.Available.Sub(req.Amount)
			srcAcct.Touch()
			if err := tx.SaveAccount(srcAcct); err != nil {
				return err
			}

			srcTxn = transaction.New(req.TenantID, req.SourceEntityID, transaction.TypeAllocation, req.Amount.Negate(), before, srcAcct.Available)
			srcTxn.AllocationID = alloc.ID
			srcTxn.Actor = req.Actor
			srcTxn.Description = req.Purpose
			if err := tx.InsertTransaction(srcTxn); err != nil {
				return err
			}

		case allocation.KindTopUp:
			newAvailable, ok := srcAcct.Available.AddChecked(req.Amount)
			if !ok {
				return ErrOverflowLimit
			}

			srcPool := account.NewPool(srcAcct, sourceForCreditType(req.CreditType), "", req.Amount, req.ExpiresAt)
			if err := tx.InsertPool(srcPool); err != nil {
				return err
			}

			before := srcAcct.Available
			srcAcct.Available = newAvailable
			srcAcct.TotalGranted = srcAcct.TotalGranted.Add(req.Amount)
			srcAcct.Touch()
			if err := tx.SaveAccount(srcAcct); err != nil {
				return err
			}

			srcTxn = transaction.New(req.TenantID, req.SourceEntityID, transaction.TypeAllocation, req.Amount, before, srcAcct.Available)
			srcTxn.PoolID = srcPool.ID
			srcTxn.AllocationID = alloc.ID
			srcTxn.Actor = req.Actor
			srcTxn.Description = req.Purpose
			if err := tx.InsertTransaction(srcTxn); err != nil {
				return err
			}
		}

		// Target side: credit the application account and its allocation
		// counters.
		tgtAcct, err := accountForUpdate(tx, targetScope, true)
		if err != nil {
			return err
		}

		newTarget, ok := tgtAcct.Available.AddChecked(req.Amount)
		if !ok {
			return ErrOverflowLimit
		}

		// Allocated credits leave the source pools for good: expiring the
		// source grant later must not claw them back. The target pool only
		// expires when the request says so.
		tgtPool := account.NewPool(tgtAcct, account.SourceAllocation, "", req.Amount, req.ExpiresAt)
		if kind == allocation.KindTopUp {
			tgtPool.Source = sourceForCreditType(req.CreditType)
		}
		if err := tx.InsertPool(tgtPool); err != nil {
			return err
		}

		tgtBefore := tgtAcct.Available
		tgtAcct.Available = newTarget
		tgtAcct.TotalGranted = tgtAcct.TotalGranted.Add(req.Amount)
		tgtAcct.Touch()
		if err := tx.SaveAccount(tgtAcct); err != nil {
			return err
		}

		if _, ok := alloc.Allocated.AddChecked(req.Amount); !ok {
			return ErrOverflowLimit
		}
		alloc.Allocated = alloc.Allocated.Add(req.Amount)
		if req.ExpiresAt != nil {
			alloc.ExpiresAt = req.ExpiresAt
		}
		if req.AutoReplenish {
			alloc.AutoReplenish = true
		}
		alloc.Touch()
		if err := tx.SaveAllocation(alloc); err != nil {
			return err
		}

		tgtTxn := transaction.New(req.TenantID, req.Application, transaction.TypeAllocation, req.Amount, tgtBefore, tgtAcct.Available)
		tgtTxn.PoolID = tgtPool.ID
		tgtTxn.AllocationID = alloc.ID
		tgtTxn.OperationID = req.OperationID
		tgtTxn.Actor = req.Actor
		tgtTxn.Description = req.Purpose
		if err := tx.InsertTransaction(tgtTxn); err != nil {
			return err
		}

		ev, err := event.New(req.TenantID, req.Application, event.TypeCreditsAllocated, map[string]any{
			"allocation_id": alloc.ID.String(),
			"source_entity": req.SourceEntityID,
			"application":   req.Application,
			"kind":          string(kind),
			"amount":        req.Amount.Int64(),
			"allocated":     alloc.Allocated.Int64(),
			"available":     alloc.Available().Int64(),
		})
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ev); err != nil {
			return err
		}

		result = &AllocateResult{Allocation: alloc, SourceTxn: srcTxn, TargetTxn: tgtTxn}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) && insufficient != nil {
			e.plugins.EmitInsufficientCredits(ctx, req.TenantID, req.SourceEntityID, req.Amount.Int64(), insufficient.Int64())
		}
		return nil, err
	}

	if !result.Replayed {
		e.plugins.EmitCreditsAllocated(ctx, result)
		e.logger.Info("credits allocated",
			"tenant_id", req.TenantID,
			"application", req.Application,
			"kind", kind,
			"amount", req.Amount,
		)
	}

	return result, nil
}

// GetAllocation returns the allocation counters for one application.
func (e *Engine) GetAllocation(ctx context.Context, tenantID, application string) (*allocation.Allocation, error) {
	if err := validateScope(tenantID, application); err != nil {
		return nil, err
	}
	return e.store.GetAllocation(ctx, tenantID, application)
}

// ListAllocations returns all application allocations of a tenant.
func (e *Engine) ListAllocations(ctx context.Context, tenantID string) ([]*allocation.Allocation, error) {
	if tenantID == "" {
		return nil, ValidationError{Field: "tenant_id", Message: "must not be empty"}
	}
	return e.store.ListAllocations(ctx, tenantID)
}
