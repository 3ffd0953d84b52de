// Package credits provides a multi-tenant credit ledger and allocation
// engine for Go applications.
//
// Credits is designed as a library, not a service. Import it directly into
// your Go application. It provides:
//
//   - Append-only ledger with full balance reconstruction via replay
//   - Credit pools with independent expiry, consumed soonest-expiring first
//   - Per-application allocations carved out of organization balances
//   - Atomic transfers between applications or tenants, never leaving credits in flight
//   - Idempotent mutations keyed by caller-supplied operation ids
//   - Background expiry sweeping and transactional outbox event delivery
//
// # Quick Start
//
// Create an engine instance with your preferred store:
//
//	import (
//	    "github.com/xraph/credits"
//	    "github.com/xraph/credits/store/postgres"
//	)
//
//	// Initialize store
//	store, err := postgres.New(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create engine
//	eng := credits.New(store)
//
//	// Start the engine (runs migrations, begins background workers)
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop()
//
// # Core Concepts
//
// Grants add credits to a scope as a pool with its own expiry:
//
//	grant, err := eng.AddCredits(ctx, credits.GrantRequest{
//	    TenantID:  "acme",
//	    EntityID:  "org",
//	    Amount:    credits.FromInt(1000),
//	    Source:    account.SourceTrial,
//	    ExpiresAt: &trialEnd,
//	})
//
// Allocations assign credits to a named application's sub-ledger:
//
//	res, err := eng.Allocate(ctx, credits.AllocateRequest{
//	    TenantID:       "acme",
//	    SourceEntityID: "org",
//	    Application:    "crm",
//	    Amount:         credits.FromInt(400),
//	})
//
// Consumption deducts from the soonest-expiring pools and is all-or-nothing:
//
//	_, err := eng.Consume(ctx, credits.ConsumeRequest{
//	    TenantID:      "acme",
//	    EntityID:      "crm",
//	    Amount:        credits.FromInt(150),
//	    OperationID:   requestID,
//	    OperationCode: "report.generate",
//	})
//
// # Correctness
//
// All credit amounts use integer arithmetic (centicredits) to avoid
// floating-point precision issues. Every mutation commits atomically with
// its ledger transaction and outbox event; replaying a scope's transactions
// always reproduces its live balance.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	acct_01h2xcejqtf2nbrexx3vqjhp41  // Account ID
//	pool_01h2xcejqtf2nbrexx3vqjhp41  // Pool ID
//	txn_01h455vb4pex5vsknk084sn02q   // Transaction ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package credits
