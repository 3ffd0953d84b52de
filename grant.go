package credits

import (
	"context"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/event"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// GrantRequest adds credits to a scope as a new pool.
type GrantRequest struct {
	TenantID string
	EntityID string
	Amount   types.Credits

	// Source classifies the grant (purchase, trial, promotional, ...).
	// Defaults to purchase.
	Source account.Source

	// BatchID groups pools created by one upstream action, e.g. a campaign.
	BatchID string

	// ExpiresAt sets the pool expiry. When nil the account policy's
	// DefaultExpiry applies; if that is zero too, the pool never expires.
	ExpiresAt *time.Time

	// OperationID makes the grant idempotent: retrying with the same id
	// and arguments returns the original result instead of double-crediting.
	OperationID string

	Actor       string
	Description string
}

// Grant is the outcome of AddCredits.
type Grant struct {
	Account *account.Account         `json:"account"`
	Pool    *account.Pool            `json:"pool,omitempty"`
	Txn     *transaction.Transaction `json:"transaction"`

	// Replayed is true when an earlier call with the same OperationID
	// already applied this grant and the stored result was returned.
	Replayed bool `json:"replayed"`
}

// AddCredits grants credits to a scope. The account is created on first
// grant. The credits land in a fresh pool so they expire independently of
// anything granted before or after.
func (e *Engine) AddCredits(ctx context.Context, req GrantRequest) (*Grant, error) {
	if err := validateScope(req.TenantID, req.EntityID); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, ValidationError{Field: "amount", Message: "must be positive"}
	}
	if req.Source == "" {
		req.Source = account.SourcePurchase
	}

	scope := account.NewScope(req.TenantID, req.EntityID)
	now := time.Now().UTC()

	var result *Grant
	err := e.store.Update(ctx, []account.Scope{scope}, func(tx store.Tx) error {
		if req.OperationID != "" {
			prior, err := tx.TransactionByOperation(req.TenantID, req.OperationID)
			if err != nil {
				return err
			}
			if prior != nil {
				if err := matchPrior(prior, transaction.TypePurchase, req.EntityID, req.Amount); err != nil {
					return err
				}
				acct, err := tx.Account(scope)
				if err != nil {
					return err
				}
				result = &Grant{Account: acct, Txn: prior, Replayed: true}
				return nil
			}
		}

		acct, err := accountForUpdate(tx, scope, true)
		if err != nil {
			return err
		}

		newAvailable, ok := acct.Available.AddChecked(req.Amount)
		if !ok {
			return ErrOverflowLimit
		}

		expiresAt := req.ExpiresAt
		if expiresAt == nil && acct.Policy != nil && acct.Policy.DefaultExpiry > 0 {
			t := now.Add(acct.Policy.DefaultExpiry)
			expiresAt = &t
		}

		pool := account.NewPool(acct, req.Source, req.BatchID, req.Amount, expiresAt)
		if err := tx.InsertPool(pool); err != nil {
			return err
		}

		before := acct.Available
		acct.Available = newAvailable
		acct.TotalGranted = acct.TotalGranted.Add(req.Amount)
		acct.Touch()
		if err := tx.SaveAccount(acct); err != nil {
			return err
		}

		txn := transaction.New(req.TenantID, req.EntityID, transaction.TypePurchase, req.Amount, before, acct.Available)
		txn.PoolID = pool.ID
		txn.OperationID = req.OperationID
		txn.Actor = req.Actor
		txn.Description = req.Description
		if err := tx.InsertTransaction(txn); err != nil {
			return err
		}

		ev, err := event.New(req.TenantID, req.EntityID, event.TypeCreditsGranted, map[string]any{
			"transaction_id": txn.ID.String(),
			"pool_id":        pool.ID.String(),
			"source":         string(req.Source),
			"amount":         req.Amount.Int64(),
			"balance":        acct.Available.Int64(),
		})
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ev); err != nil {
			return err
		}

		result = &Grant{Account: acct, Pool: pool, Txn: txn}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		e.plugins.EmitCreditsGranted(ctx, result)
		e.logger.Info("credits granted",
			"tenant_id", req.TenantID,
			"entity_id", req.EntityID,
			"amount", req.Amount,
			"source", req.Source,
		)
	}

	return result, nil
}
