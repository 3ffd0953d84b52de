package credits

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/allocation"
	"github.com/xraph/credits/event"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// TransferRequest moves credits between two scopes: two applications of the
// same tenant, or two tenants' accounts.
type TransferRequest struct {
	From   account.Scope
	To     account.Scope
	Amount types.Credits

	// ExpiresAt sets the expiry of the transferred credits. When nil they
	// never expire; a transfer severs the link to the source pools'
	// lifetimes.
	ExpiresAt *time.Time

	Purpose     string
	OperationID string
	Actor       string
}

// TransferResult is the outcome of Transfer. The two ledger transactions
// share a TransferID so either side can be traced to the other.
type TransferResult struct {
	TransferID id.TransferID            `json:"transfer_id"`
	OutTxn     *transaction.Transaction `json:"out_transaction"`
	InTxn      *transaction.Transaction `json:"in_transaction"`
	Replayed   bool                     `json:"replayed"`
}

// Transfer moves credits from one scope to another. The debit and credit
// commit together or not at all; a transfer can never leave credits in
// flight. Within a tenant the two scopes are application sub-ledgers and the
// receiving allocation is created on first transfer; across tenants the
// scopes are plain accounts and allocation counters are untouched.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if err := validateScope(req.From.TenantID, req.From.EntityID); err != nil {
		return nil, err
	}
	if err := validateScope(req.To.TenantID, req.To.EntityID); err != nil {
		return nil, err
	}
	if req.From == req.To {
		return nil, ValidationError{Field: "to", Message: "must differ from source scope"}
	}
	if !req.Amount.IsPositive() {
		return nil, ValidationError{Field: "amount", Message: "must be positive"}
	}

	crossTenant := req.From.TenantID != req.To.TenantID
	if !crossTenant {
		if err := e.checkApplication(req.From.EntityID); err != nil {
			return nil, err
		}
		if err := e.checkApplication(req.To.EntityID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()

	var result *TransferResult
	var insufficient *types.Credits

	err := e.store.Update(ctx, []account.Scope{req.From, req.To}, func(tx store.Tx) error {
		if req.OperationID != "" {
			prior, err := tx.TransactionByOperation(req.To.TenantID, req.OperationID)
			if err != nil {
				return err
			}
			if prior != nil {
				if err := matchPrior(prior, transaction.TypeTransferIn, req.To.EntityID, req.Amount); err != nil {
					return err
				}
				result = &TransferResult{TransferID: prior.TransferID, InTxn: prior, Replayed: true}
				return nil
			}
		}

		fromAcct, err := accountForUpdate(tx, req.From, false)
		if err != nil {
			return err
		}

		pools, err := tx.Pools(req.From)
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

		transferID := id.NewTransferID()

		// Debit side.
		fromBefore := fromAcct.Available
		fromAcct.Available = fromAcct.Available.Sub(req.Amount)
		fromAcct.Touch()
		if err := tx.SaveAccount(fromAcct); err != nil {
			return err
		}

		fromAlloc, err := tx.Allocation(req.From.TenantID, req.From.EntityID)
		switch {
		case err == nil:
			fromAlloc.Allocated = fromAlloc.Allocated.Sub(req.Amount)
			fromAlloc.Touch()
			if err := tx.SaveAllocation(fromAlloc); err != nil {
				return err
			}
		case !errors.Is(err, ErrAllocationNotFound):
			return err
		}

		outTxn := transaction.New(req.From.TenantID, req.From.EntityID, transaction.TypeTransferOut, req.Amount.Negate(), fromBefore, fromAcct.Available)
		outTxn.TransferID = transferID
		if fromAlloc != nil {
			outTxn.AllocationID = fromAlloc.ID
		}
		outTxn.Actor = req.Actor
		outTxn.Description = req.Purpose
		if err := tx.InsertTransaction(outTxn); err != nil {
			return err
		}

		// Credit side.
		toAcct, err := accountForUpdate(tx, req.To, true)
		if err != nil {
			return err
		}

		newAvailable, ok := toAcct.Available.AddChecked(req.Amount)
		if !ok {
			return ErrOverflowLimit
		}

		// Transferred credits take only the expiry the request asks for.
		// Expiring the source pools later must not claw back what already
		// moved out.
		toPool := account.NewPool(toAcct, account.SourceTransfer, "", req.Amount, req.ExpiresAt)
		if err := tx.InsertPool(toPool); err != nil {
			return err
		}

		toBefore := toAcct.Available
		toAcct.Available = newAvailable
		toAcct.TotalGranted = toAcct.TotalGranted.Add(req.Amount)
		toAcct.Touch()
		if err := tx.SaveAccount(toAcct); err != nil {
			return err
		}

		var toAlloc *allocation.Allocation
		if !crossTenant {
			toAlloc, err = tx.Allocation(req.To.TenantID, req.To.EntityID)
			if err != nil {
				if !errors.Is(err, ErrAllocationNotFound) {
					return err
				}
				toAlloc = allocation.New(req.To.TenantID, req.To.EntityID, req.From.EntityID, req.Purpose)
			}
			if _, ok := toAlloc.Allocated.AddChecked(req.Amount); !ok {
				return ErrOverflowLimit
			}
			toAlloc.Allocated = toAlloc.Allocated.Add(req.Amount)
			toAlloc.Touch()
			if err := tx.SaveAllocation(toAlloc); err != nil {
				return err
			}
		}

		inTxn := transaction.New(req.To.TenantID, req.To.EntityID, transaction.TypeTransferIn, req.Amount, toBefore, toAcct.Available)
		inTxn.TransferID = transferID
		inTxn.PoolID = toPool.ID
		if toAlloc != nil {
			inTxn.AllocationID = toAlloc.ID
		}
		inTxn.OperationID = req.OperationID
		inTxn.Actor = req.Actor
		inTxn.Description = req.Purpose
		if err := tx.InsertTransaction(inTxn); err != nil {
			return err
		}

		ev, err := event.New(req.To.TenantID, req.To.EntityID, event.TypeCreditsTransferred, map[string]any{
			"transfer_id": transferID.String(),
			"from":        req.From.Key(),
			"to":          req.To.Key(),
			"amount":      req.Amount.Int64(),
		})
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ev); err != nil {
			return err
		}

		result = &TransferResult{TransferID: transferID, OutTxn: outTxn, InTxn: inTxn}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) && insufficient != nil {
			e.plugins.EmitInsufficientCredits(ctx, req.From.TenantID, req.From.EntityID, req.Amount.Int64(), insufficient.Int64())
		}
		return nil, err
	}

	if !result.Replayed {
		e.plugins.EmitCreditsTransferred(ctx, result)
		e.logger.Info("credits transferred",
			"from", req.From.Key(),
			"to", req.To.Key(),
			"amount", req.Amount,
		)
	}

	return result, nil
}
