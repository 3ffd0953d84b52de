package credits_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/event"
	"github.com/xraph/credits/types"
)

// TestTenantLifecycle walks a tenant through the full credit lifecycle:
// grant, allocate, consume, transfer, expiry. After every step the ledger
// must replay to the stored balance on every touched scope.
func TestTenantLifecycle(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	verify := func(step string, entities ...string) {
		t.Helper()
		for _, entity := range entities {
			if _, err := e.Replay(ctx, "acme", entity); err != nil {
				t.Fatalf("after %s: ledger replay for %s: %v", step, entity, err)
			}
		}
	}

	// 1. Grant 1000 trial credits to the org, expiring in an hour.
	expiry := now.Add(time.Hour)
	mustGrant(t, e, credits.GrantRequest{
		TenantID: "acme", EntityID: "org",
		Amount: types.FromInt(1000),
		Source: account.SourceTrial, ExpiresAt: &expiry,
	})
	verify("grant", "org")

	// 2. Carve 400 out to the crm application.
	if _, err := e.Allocate(ctx, credits.AllocateRequest{
		TenantID: "acme", SourceEntityID: "org", Application: "crm",
		Amount: types.FromInt(400), Purpose: "sales",
	}); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	verify("allocate", "org", "crm")

	// 3. crm consumes 150.
	if _, err := e.Consume(ctx, credits.ConsumeRequest{
		TenantID: "acme", EntityID: "crm",
		Amount: types.FromInt(150), OperationCode: "inference.run",
	}); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	verify("consume", "org", "crm")

	// 4. crm hands 100 to hr.
	if _, err := e.Transfer(ctx, credits.TransferRequest{
		From:   account.NewScope("acme", "crm"),
		To:     account.NewScope("acme", "hr"),
		Amount: types.FromInt(100),
	}); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	verify("transfer", "org", "crm", "hr")

	orgBal, _ := e.GetBalance(ctx, "acme", "org")
	crmBal, _ := e.GetBalance(ctx, "acme", "crm")
	hrBal, _ := e.GetBalance(ctx, "acme", "hr")
	if orgBal.Available != types.FromInt(600) {
		t.Errorf("org = %s, want 600.00", orgBal.Available)
	}
	if crmBal.Available != types.FromInt(150) {
		t.Errorf("crm = %s, want 150.00", crmBal.Available)
	}
	if hrBal.Available != types.FromInt(100) {
		t.Errorf("hr = %s, want 100.00", hrBal.Available)
	}

	// 5. The trial expires. Only the org remainder retires: credits already
	// allocated or transferred out before the expiry are unaffected.
	res, err := e.SweepExpired(ctx, now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if res.AmountRetired != types.FromInt(600) {
		t.Errorf("retired = %s, want 600.00 (the unallocated org remainder)", res.AmountRetired)
	}
	verify("sweep", "org", "crm", "hr")

	want := map[string]types.Credits{
		"org": 0,
		"crm": types.FromInt(150),
		"hr":  types.FromInt(100),
	}
	for entity, expected := range want {
		bal, err := e.GetBalance(ctx, "acme", entity)
		if err != nil {
			t.Fatalf("GetBalance(%s): %v", entity, err)
		}
		if bal.Available != expected {
			t.Errorf("%s = %s after expiry, want %s", entity, bal.Available, expected)
		}
	}
}

// memPublisher collects published events for inspection.
type memPublisher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (p *memPublisher) Publish(_ context.Context, ev *event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *memPublisher) types() map[event.Type]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	counts := make(map[event.Type]int)
	for _, ev := range p.events {
		counts[ev.Type]++
	}
	return counts
}

func TestOutboxDeliversLifecycleEvents(t *testing.T) {
	pub := &memPublisher{}
	e := newTestEngine(t,
		credits.WithPublisher(pub),
		credits.WithSweepConfig(0, 0), // no background sweeps
		credits.WithDispatchConfig(5*time.Millisecond, 100),
	)
	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mustGrant(t, e, credits.GrantRequest{TenantID: "acme", EntityID: "org", Amount: types.FromInt(1000)})
	if _, err := e.Allocate(ctx, credits.AllocateRequest{
		TenantID: "acme", SourceEntityID: "org", Application: "crm",
		Amount: types.FromInt(400),
	}); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := e.Consume(ctx, credits.ConsumeRequest{
		TenantID: "acme", EntityID: "crm", Amount: types.FromInt(100),
	}); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	// Stop drains the outbox before shutting down.
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	counts := pub.types()
	want := []event.Type{event.TypeCreditsGranted, event.TypeCreditsAllocated, event.TypeCreditsConsumed}
	for _, typ := range want {
		if counts[typ] != 1 {
			t.Errorf("published %d %s events, want 1", counts[typ], typ)
		}
	}
}

func TestReplayDetectsNoMismatchOnFreshLedger(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	mustGrant(t, e, credits.GrantRequest{TenantID: "acme", EntityID: "org", Amount: types.FromInt(500)})
	if _, err := e.Consume(ctx, credits.ConsumeRequest{
		TenantID: "acme", EntityID: "org", Amount: types.FromInt(123),
	}); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	got, err := e.Replay(ctx, "acme", "org")
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if got != types.FromInt(377) {
		t.Errorf("replayed = %s, want 377.00", got)
	}
}
