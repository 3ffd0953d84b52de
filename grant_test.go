package credits_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/store/memory"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// newTestEngine returns an engine over a fresh in-memory store. Background
// workers are never started; tests drive the engine synchronously.
func newTestEngine(t *testing.T, opts ...credits.Option) *credits.Engine {
	t.Helper()
	return credits.New(memory.New(), opts...)
}

// mustGrant seeds a scope with credits and fails the test on error.
func mustGrant(t *testing.T, e *credits.Engine, req credits.GrantRequest) *credits.Grant {
	t.Helper()
	g, err := e.AddCredits(context.Background(), req)
	if err != nil {
		t.Fatalf("AddCredits(%s/%s, %s): %v", req.TenantID, req.EntityID, req.Amount, err)
	}
	return g
}

func TestAddCreditsCreatesAccountAndPool(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	g := mustGrant(t, e, credits.GrantRequest{
		TenantID: "acme",
		EntityID: "org",
		Amount:   types.FromInt(1000),
		Source:   account.SourceTrial,
	})

	if g.Account.Available != types.FromInt(1000) {
		t.Errorf("Available = %s, want 1000.00", g.Account.Available)
	}
	if g.Account.TotalGranted != types.FromInt(1000) {
		t.Errorf("TotalGranted = %s, want 1000.00", g.Account.TotalGranted)
	}
	if g.Pool == nil || g.Pool.Source != account.SourceTrial {
		t.Errorf("pool source = %v, want trial", g.Pool)
	}
	if g.Txn.Type != transaction.TypePurchase || g.Txn.Amount != types.FromInt(1000) {
		t.Errorf("txn = %+v, want purchase +1000", g.Txn)
	}

	// A second grant lands in its own pool.
	mustGrant(t, e, credits.GrantRequest{TenantID: "acme", EntityID: "org", Amount: types.FromInt(500)})

	bal, err := e.GetBalance(ctx, "acme", "org")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal.Available != types.FromInt(1500) {
		t.Errorf("balance = %s, want 1500.00", bal.Available)
	}
	if len(bal.Pools) != 2 {
		t.Errorf("pools = %d, want 2", len(bal.Pools))
	}
}

func TestAddCreditsValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  credits.GrantRequest
	}{
		{"missing tenant", credits.GrantRequest{EntityID: "org", Amount: types.FromInt(10)}},
		{"missing entity", credits.GrantRequest{TenantID: "acme", Amount: types.FromInt(10)}},
		{"zero amount", credits.GrantRequest{TenantID: "acme", EntityID: "org"}},
		{"negative amount", credits.GrantRequest{TenantID: "acme", EntityID: "org", Amount: types.FromInt(-5)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.AddCredits(ctx, tt.req)
			if !errors.Is(err, credits.ErrInvalidInput) {
				t.Errorf("error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestAddCreditsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	req := credits.GrantRequest{
		TenantID:    "acme",
		EntityID:    "org",
		Amount:      types.FromInt(100),
		OperationID: "grant-1",
	}

	first := mustGrant(t, e, req)
	if first.Replayed {
		t.Error("first call must not be a replay")
	}

	second, err := e.AddCredits(ctx, req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !second.Replayed {
		t.Error("retry with the same operation id should replay")
	}
	if second.Txn.ID != first.Txn.ID {
		t.Error("replay should return the original transaction")
	}
	if second.Account.Available != types.FromInt(100) {
		t.Errorf("balance after replay = %s, want 100.00 (no double credit)", second.Account.Available)
	}
}

func TestAddCreditsOperationIDMismatch(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	mustGrant(t, e, credits.GrantRequest{
		TenantID: "acme", EntityID: "org",
		Amount: types.FromInt(100), OperationID: "grant-1",
	})

	_, err := e.AddCredits(ctx, credits.GrantRequest{
		TenantID: "acme", EntityID: "org",
		Amount: types.FromInt(999), OperationID: "grant-1",
	})
	if !errors.Is(err, credits.ErrDuplicateOperation) {
		t.Errorf("error = %v, want ErrDuplicateOperation", err)
	}
}

func TestAddCreditsOverflow(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	mustGrant(t, e, credits.GrantRequest{
		TenantID: "acme", EntityID: "org", Amount: types.MaxBalance,
	})

	_, err := e.AddCredits(ctx, credits.GrantRequest{
		TenantID: "acme", EntityID: "org", Amount: types.FromInt(1),
	})
	if !errors.Is(err, credits.ErrOverflowLimit) {
		t.Errorf("error = %v, want ErrOverflowLimit", err)
	}
}

func TestAddCreditsToDisabledAccount(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	mustGrant(t, e, credits.GrantRequest{TenantID: "acme", EntityID: "org", Amount: types.FromInt(10)})
	if err := e.DisableAccount(ctx, "acme", "org"); err != nil {
		t.Fatalf("DisableAccount: %v", err)
	}

	_, err := e.AddCredits(ctx, credits.GrantRequest{TenantID: "acme", EntityID: "org", Amount: types.FromInt(10)})
	if !errors.Is(err, credits.ErrAccountDisabled) {
		t.Errorf("error = %v, want ErrAccountDisabled", err)
	}

	// Reads keep working.
	if _, err := e.GetBalance(ctx, "acme", "org"); err != nil {
		t.Errorf("GetBalance on disabled account: %v", err)
	}

	if err := e.EnableAccount(ctx, "acme", "org"); err != nil {
		t.Fatalf("EnableAccount: %v", err)
	}
	if _, err := e.AddCredits(ctx, credits.GrantRequest{TenantID: "acme", EntityID: "org", Amount: types.FromInt(10)}); err != nil {
		t.Errorf("grant after re-enable: %v", err)
	}
}

func TestAddCreditsExplicitExpiry(t *testing.T) {
	e := newTestEngine(t)

	expiry := time.Now().UTC().Add(30 * 24 * time.Hour)
	g := mustGrant(t, e, credits.GrantRequest{
		TenantID: "acme", EntityID: "org",
		Amount:    types.FromInt(100),
		ExpiresAt: &expiry,
	})

	if g.Pool.ExpiresAt == nil || !g.Pool.ExpiresAt.Equal(expiry) {
		t.Errorf("pool expiry = %v, want %v", g.Pool.ExpiresAt, expiry)
	}
}
