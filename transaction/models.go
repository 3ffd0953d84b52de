// Package transaction defines the append-only ledger records written for
// every balance-affecting mutation.
package transaction

import (
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// Type classifies a ledger transaction.
type Type string

// Transaction types. Amounts are signed: consumption, expiry, and
// transfer_out are negative; purchase, transfer_in, and the receiving leg
// of an allocation are positive.
const (
	TypePurchase    Type = "purchase"
	TypeAllocation  Type = "allocation"
	TypeConsumption Type = "consumption"
	TypeTransferIn  Type = "transfer_in"
	TypeTransferOut Type = "transfer_out"
	TypeExpiry      Type = "expiry"
)

// Transaction is one immutable ledger row. Rows are never updated or
// deleted; replaying a scope's rows in timestamp order and summing the
// signed amounts reproduces its current available balance.
type Transaction struct {
	types.Entity

	ID            id.TransactionID `json:"id"`
	TenantID      string           `json:"tenant_id"`
	EntityID      string           `json:"entity_id"`
	Type          Type             `json:"type"`
	Amount        types.Credits    `json:"amount"`
	BalanceBefore types.Credits    `json:"balance_before"`
	BalanceAfter  types.Credits    `json:"balance_after"`
	PoolID        id.PoolID        `json:"pool_id,omitempty"`
	AllocationID  id.AllocationID  `json:"allocation_id,omitempty"`
	TransferID    id.TransferID    `json:"transfer_id,omitempty"`
	OperationID   string           `json:"operation_id,omitempty"`
	OperationCode string           `json:"operation_code,omitempty"`
	Actor         string           `json:"actor,omitempty"`
	Description   string           `json:"description,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// New creates a transaction row for a scope with the balance movement
// already computed by the caller.
func New(tenantID, entityID string, typ Type, amount, before, after types.Credits) *Transaction {
	return &Transaction{
		Entity:        types.NewEntity(),
		ID:            id.NewTransactionID(),
		TenantID:      tenantID,
		EntityID:      entityID,
		Type:          typ,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Timestamp:     time.Now().UTC(),
	}
}

// ListOpts filters transaction listings.
type ListOpts struct {
	Type   Type
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}

// Replay folds a scope's transactions in timestamp order and returns the
// balance they reproduce. Used by audit checks against the live balance.
func Replay(txns []*Transaction) types.Credits {
	var balance types.Credits
	for _, t := range txns {
		balance += t.Amount
	}
	return balance
}
