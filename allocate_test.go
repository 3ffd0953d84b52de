package credits_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/allocation"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

func TestAllocateCarveOut(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	mustGrant(t, e, credits.GrantRequest{TenantID: "acme", EntityID: "org", Amount: types.FromInt(1000)})

	res, err := e.Allocate(ctx, credits.AllocateRequest{
		TenantID:       "acme",
		SourceEntityID: "org",
		Application:    "crm",
		Amount:         types.FromInt(400),
		Purpose:        "sales",
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	// Source loses 400, target gains 400: the tenant total is conserved.
	orgBal, _ := e.GetBalance(ctx, "acme", "org")
	crmBal, _ := e.GetBalance(ctx, "acme", "crm")
	if orgBal.Available != types.FromInt(600) {
		t.Errorf("source balance = %s, want 600.00", orgBal.Available)
	}
	if crmBal.Available != types.FromInt(400) {
		t.Errorf("target balance = %s, want 400.00", crmBal.Available)
	}

	if res.Allocation.Allocated != types.FromInt(400) {
		t.Errorf("Allocated = %s, want 400.00", res.Allocation.Allocated)
	}
	if res.Allocation.SourceEntityID != "org" || res.Allocation.Purpose != "sales" {
		t.Errorf("allocation = %+v", res.Allocation)
	}

	// Paired ledger transactions: source debit and target credit.
	if res.SourceTxn == nil || res.SourceTxn.Amount != types.FromInt(-400) {
		t.Errorf("source txn = %+v, want -400", res.SourceTxn)
	}
	if res.TargetTxn.Amount != types.FromInt(400) || res.TargetTxn.Type != transaction.TypeAllocation {
		t.Errorf("target txn = %+v, want allocation +400", res.TargetTxn)
	}
	if res.SourceTxn.AllocationID != res.Allocation.ID || res.TargetTxn.AllocationID != res.Allocation.ID {
		t.Error("both legs should reference the allocation")
	}
}

func TestAllocateCarveOutInsufficient(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	mustGrant(t, e, credits.GrantRequest{TenantID: "acme", EntityID: "org", Amount: types.FromInt(100)})

	_, err := e.Allocate(ctx, credits.AllocateRequest{
		TenantID: "acme", SourceEntityID: "org", Application: "crm",
		Amount: types.FromInt(500),
	})
	if !errors.Is(err, credits.ErrInsufficientCredits) {
		t.Fatalf("error = %v, want ErrInsufficientCredits", err)
	}

	// Neither side changed and no allocation row was created.
	orgBal, _ := e.GetBalance(ctx, "acme", "org")
	if orgBal.Available != types.FromInt(100) {
		t.Errorf("source balance = %s, want 100.00", orgBal.Available)
	}
	if _, err := e.GetAllocation(ctx, "acme", "crm"); !errors.Is(err, credits.ErrAllocationNotFound) {
		t.Errorf("GetAllocation error = %v, want ErrAllocationNotFound", err)
	}
}

func TestAllocatedCreditsOutliveSourceExpiry(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	expiry := time.Now().UTC().Add(7 * 24 * time.Hour)
	mustGrant(t, e, credits.GrantRequest{
		TenantID: "acme", EntityID: "org",
		Amount: types.FromInt(100), ExpiresAt: &expiry,
	})

	if _, err := e.Allocate(ctx, credits.AllocateRequest{
		TenantID: "acme", SourceEntityID: "org", Application: "crm",
		Amount: types.FromInt(50),
	}); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	// Carved credits already left the expiring pool; they carry no expiry
	// unless the request sets one.
	crmBal, _ := e.GetBalance(ctx, "acme", "crm")
	if crmBal.NextExpiry != nil {
		t.Errorf("carved pool expiry = %v, want none", crmBal.NextExpiry)
	}

	// Sweeping past the grant expiry retires only the unallocated remainder.
	if _, err := e.SweepExpired(ctx, expiry.Add(time.Hour), 10); err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	orgBal, _ := e.GetBalance(ctx, "acme", "org")
	crmBal, _ = e.GetBalance(ctx, "acme", "crm")
	if orgBal.Available != 0 {
		t.Errorf("source balance after sweep = %s, want 0.00", orgBal.Available)
	}
	if crmBal.Available != types.FromInt(50) {
		t.Errorf("allocated balance after sweep = %s, want 50.00", crmBal.Available)
	}
}

func TestAllocateHonorsExplicitExpiry(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	mustGrant(t, e, credits.GrantRequest{TenantID: "acme", EntityID: "org", Amount: types.FromInt(100)})

	expiry := time.Now().UTC().Add(30 * 24 * time.Hour)
	if _, err := e.Allocate(ctx, credits.AllocateRequest{
		TenantID: "acme", SourceEntityID: "org", Application: "crm",
		Amount: types.FromInt(50), ExpiresAt: &expiry,
	}); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	crmBal, _ := e.GetBalance(ctx, "acme", "crm")
	if crmBal.NextExpiry == nil || !crmBal.NextExpiry.Equal(expiry) {
		t.Errorf("carved pool expiry = %v, want %v", crmBal.NextExpiry, expiry)
	}
}

func TestAllocateTopUpMintsBothSides(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Allocate(ctx, credits.AllocateRequest{
		TenantID:       "acme",
		SourceEntityID: "org",
		Application:    "crm",
		Amount:         types.FromInt(300),
		CreditType:     "seasonal",
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	// Top-up mints: the source account did not exist and was created with
	// new credits rather than being debited.
	orgBal, _ := e.GetBalance(ctx, "acme", "org")
	crmBal, _ := e.GetBalance(ctx, "acme", "crm")
	if orgBal.Available != types.FromInt(300) {
		t.Errorf("source balance = %s, want 300.00", orgBal.Available)
	}
	if crmBal.Available != types.FromInt(300) {
		t.Errorf("target balance = %s, want 300.00", crmBal.Available)
	}

	if res.SourceTxn == nil || res.SourceTxn.Amount != types.FromInt(300) {
		t.Errorf("source txn = %+v, want +300 (mint)", res.SourceTxn)
	}

	// Credit type drives the pool source on both sides.
	if len(crmBal.Pools) != 1 || crmBal.Pools[0].Source != account.SourceSeasonal {
		t.Errorf("target pool source = %v, want seasonal", crmBal.Pools)
	}
}

func TestAllocateKindDerivation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	mustGrant(t, e, credits.GrantRequest{TenantID: "acme", EntityID: "org", Amount: types.FromInt(100)})

	// "paid" derives top-up: the source balance grows instead of shrinking.
	if _, err := e.Allocate(ctx, credits.AllocateRequest{
		TenantID: "acme", SourceEntityID: "org", Application: "crm",
		Amount: types.FromInt(50), CreditType: "paid",
	}); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	orgBal, _ := e.GetBalance(ctx, "acme", "org")
	if orgBal.Available != types.FromInt(150) {
		t.Errorf("source balance = %s, want 150.00 after paid top-up", orgBal.Available)
	}

	// Explicit Kind overrides the credit type.
	if _, err := e.Allocate(ctx, credits.AllocateRequest{
		TenantID: "acme", SourceEntityID: "org", Application: "crm",
		Amount: types.FromInt(50), CreditType: "paid",
		Kind: allocation.KindCarveOut,
	}); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	orgBal, _ = e.GetBalance(ctx, "acme", "org")
	if orgBal.Available != types.FromInt(100) {
		t.Errorf("source balance = %s, want 100.00 after forced carve-out", orgBal.Available)
	}
}

func TestAllocateIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	mustGrant(t, e, credits.GrantRequest{TenantID: "acme", EntityID: "org", Amount: types.FromInt(1000)})

	req := credits.AllocateRequest{
		TenantID: "acme", SourceEntityID: "org", Application: "crm",
		Amount:      types.FromInt(400),
		OperationID: "alloc-1",
	}

	first, err := e.Allocate(ctx, req)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	second, err := e.Allocate(ctx, req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !second.Replayed {
		t.Error("retry should replay")
	}
	if second.TargetTxn.ID != first.TargetTxn.ID {
		t.Error("replay should return the original target transaction")
	}
	if second.Allocation.Allocated != types.FromInt(400) {
		t.Errorf("Allocated = %s after replay, want 400.00", second.Allocation.Allocated)
	}

	orgBal, _ := e.GetBalance(ctx, "acme", "org")
	if orgBal.Available != types.FromInt(600) {
		t.Errorf("source balance = %s, want 600.00 (no double debit)", orgBal.Available)
	}
}

func TestAllocateValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  credits.AllocateRequest
	}{
		{"missing application", credits.AllocateRequest{
			TenantID: "acme", SourceEntityID: "org", Amount: types.FromInt(10),
		}},
		{"application equals source", credits.AllocateRequest{
			TenantID: "acme", SourceEntityID: "org", Application: "org", Amount: types.FromInt(10),
		}},
		{"zero amount", credits.AllocateRequest{
			TenantID: "acme", SourceEntityID: "org", Application: "crm",
		}},
		{"bad kind", credits.AllocateRequest{
			TenantID: "acme", SourceEntityID: "org", Application: "crm",
			Amount: types.FromInt(10), Kind: allocation.GrantKind("mystery"),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Allocate(ctx, tt.req)
			if !errors.Is(err, credits.ErrInvalidInput) {
				t.Errorf("error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestAllocateApplicationAllowlist(t *testing.T) {
	e := newTestEngine(t, credits.WithApplications("crm", "hr"))
	ctx := context.Background()

	mustGrant(t, e, credits.GrantRequest{TenantID: "acme", EntityID: "org", Amount: types.FromInt(100)})

	_, err := e.Allocate(ctx, credits.AllocateRequest{
		TenantID: "acme", SourceEntityID: "org", Application: "rogue",
		Amount: types.FromInt(10),
	})
	if !errors.Is(err, credits.ErrUnknownApplication) {
		t.Errorf("error = %v, want ErrUnknownApplication", err)
	}

	if _, err := e.Allocate(ctx, credits.AllocateRequest{
		TenantID: "acme", SourceEntityID: "org", Application: "crm",
		Amount: types.FromInt(10),
	}); err != nil {
		t.Errorf("allowlisted application rejected: %v", err)
	}
}

func TestListAllocations(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	mustGrant(t, e, credits.GrantRequest{TenantID: "acme", EntityID: "org", Amount: types.FromInt(1000)})

	for _, app := range []string{"hr", "crm"} {
		if _, err := e.Allocate(ctx, credits.AllocateRequest{
			TenantID: "acme", SourceEntityID: "org", Application: app,
			Amount: types.FromInt(100),
		}); err != nil {
			t.Fatalf("Allocate(%s): %v", app, err)
		}
	}

	allocs, err := e.ListAllocations(ctx, "acme")
	if err != nil {
		t.Fatalf("ListAllocations: %v", err)
	}
	if len(allocs) != 2 {
		t.Fatalf("len = %d, want 2", len(allocs))
	}
	// Sorted by application name.
	if allocs[0].Application != "crm" || allocs[1].Application != "hr" {
		t.Errorf("order = [%s %s], want [crm hr]", allocs[0].Application, allocs[1].Application)
	}
}
