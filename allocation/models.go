// Package allocation defines per-application sub-ledgers carved out of an
// organization-level credit account.
package allocation

import (
	"time"

	"github.com/xraph/credits/id"
	"github.com/xraph/credits/types"
)

// GrantKind selects the semantics of an Allocate call. The two kinds are
// dispatched in exactly one place in the engine; callers never branch on
// raw credit type strings.
type GrantKind string

const (
	// KindCarveOut debits the source account while crediting the target
	// allocation. Zero-sum across the tenant.
	KindCarveOut GrantKind = "carve_out"

	// KindTopUp adds credits to both the source account and the target
	// allocation without debiting anything. Models paid, bulk, seasonal,
	// and promotional grants.
	KindTopUp GrantKind = "top_up"
)

// KindForCreditType maps the legacy creditType strings callers send to a
// GrantKind. Unknown types default to carve-out, the stricter semantics.
func KindForCreditType(creditType string) GrantKind {
	switch creditType {
	case "paid", "bulk", "seasonal", "promotional":
		return KindTopUp
	default:
		return KindCarveOut
	}
}

// Valid reports whether k is a known kind.
func (k GrantKind) Valid() bool {
	return k == KindCarveOut || k == KindTopUp
}

// Allocation is a sub-ledger assigning organization credits to one named
// downstream application. Available always equals Allocated minus Used;
// Used only grows via consumption, while Allocated shrinks on transfer-out
// and expiry of the allocation's pools.
type Allocation struct {
	types.Entity

	ID             id.AllocationID `json:"id"`
	TenantID       string          `json:"tenant_id"`
	Application    string          `json:"application"`
	SourceEntityID string          `json:"source_entity_id"`
	Purpose        string          `json:"purpose,omitempty"`
	Allocated      types.Credits   `json:"allocated"`
	Used           types.Credits   `json:"used"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	AutoReplenish  bool            `json:"auto_replenish"`
}

// New creates an empty allocation for a (tenant, application) pair.
func New(tenantID, application, sourceEntityID, purpose string) *Allocation {
	return &Allocation{
		Entity:         types.NewEntity(),
		ID:             id.NewAllocationID(),
		TenantID:       tenantID,
		Application:    application,
		SourceEntityID: sourceEntityID,
		Purpose:        purpose,
	}
}

// Available returns the credits the allocation can still spend.
func (a *Allocation) Available() types.Credits {
	return a.Allocated - a.Used
}
