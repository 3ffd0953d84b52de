package credits

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/credits/account"
	"github.com/xraph/credits/event"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// Engine is the main credit engine. All balance mutations go through it;
// every mutation is applied atomically by the store and recorded as an
// immutable ledger transaction plus an outbox event.
type Engine struct {
	store     store.Store
	plugins   *plugin.Registry
	logger    *slog.Logger
	publisher event.Publisher

	// Background workers
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Configuration
	sweepInterval    time.Duration
	sweepBatchSize   int
	dispatchInterval time.Duration
	dispatchBatch    int
	applications     map[string]bool
	skipMigrate      bool
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:            s,
		plugins:          plugin.NewRegistry(),
		logger:           slog.Default(),
		publisher:        event.Discard,
		stopChan:         make(chan struct{}),
		sweepInterval:    time.Minute,
		sweepBatchSize:   100,
		dispatchInterval: 2 * time.Second,
		dispatchBatch:    100,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithPublisher sets the sink outbox events are delivered to.
func WithPublisher(p event.Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithSweepConfig configures the expiry sweeper. A non-positive interval
// disables the background sweep; SweepExpired can still be called directly.
func WithSweepConfig(interval time.Duration, batchSize int) Option {
	return func(e *Engine) {
		e.sweepInterval = interval
		e.sweepBatchSize = batchSize
	}
}

// WithDispatchConfig configures the outbox dispatcher. A non-positive
// interval disables background dispatch.
func WithDispatchConfig(interval time.Duration, batchSize int) Option {
	return func(e *Engine) {
		e.dispatchInterval = interval
		e.dispatchBatch = batchSize
	}
}

// WithoutMigrations makes Start skip schema migration, for deployments that
// manage the schema externally.
func WithoutMigrations() Option {
	return func(e *Engine) {
		e.skipMigrate = true
	}
}

// WithApplications restricts Allocate and Transfer to a fixed set of
// application names. Without this option any application name is accepted
// and its allocation is created on first use.
func WithApplications(apps ...string) Option {
	return func(e *Engine) {
		e.applications = make(map[string]bool, len(apps))
		for _, a := range apps {
			e.applications[a] = true
		}
	}
}

// Start begins background workers.
func (e *Engine) Start(ctx context.Context) error {
	// Migrate database
	if !e.skipMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return err
		}
	}

	// Initialize plugins
	e.plugins.EmitInit(ctx, e)

	if e.sweepInterval > 0 {
		e.wg.Add(1)
		go e.sweepWorker(ctx)
	}
	if e.dispatchInterval > 0 {
		e.wg.Add(1)
		go e.dispatchWorker(ctx)
	}

	e.logger.Info("credit engine started",
		"sweep_interval", e.sweepInterval,
		"dispatch_interval", e.dispatchInterval,
	)

	return nil
}

// Stop shuts down the Engine.
func (e *Engine) Stop() error {
	close(e.stopChan)
	e.wg.Wait()

	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// Plugins exposes the plugin registry for late registration and inspection.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Store exposes the underlying store, mainly for extensions and health checks.
func (e *Engine) Store() store.Store { return e.store }

// ──────────────────────────────────────────────────
// Background workers
// ──────────────────────────────────────────────────

// sweepWorker retires expired pools on a fixed interval.
func (e *Engine) sweepWorker(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return

		case <-ticker.C:
			if _, err := e.SweepExpired(ctx, time.Now().UTC(), e.sweepBatchSize); err != nil {
				e.logger.Error("expiry sweep failed", "error", err)
			}
		}
	}
}

// dispatchWorker drains pending outbox events to the publisher.
func (e *Engine) dispatchWorker(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			// Final drain
			e.dispatchPending(ctx)
			return

		case <-ticker.C:
			e.dispatchPending(ctx)
		}
	}
}

func (e *Engine) dispatchPending(ctx context.Context) {
	events, err := e.store.ListPendingEvents(ctx, e.dispatchBatch)
	if err != nil {
		e.logger.Error("failed to list pending events", "error", err)
		return
	}

	for _, ev := range events {
		if err := e.publisher.Publish(ctx, ev); err != nil {
			if markErr := e.store.MarkEventFailed(ctx, ev.ID, err.Error()); markErr != nil {
				e.logger.Error("failed to mark event failed", "event_id", ev.ID, "error", markErr)
			}
			e.plugins.EmitEventFailed(ctx, ev, err)
			e.logger.Warn("event publish failed",
				"event_id", ev.ID,
				"type", ev.Type,
				"error", err,
			)
			continue
		}

		if err := e.store.MarkEventPublished(ctx, ev.ID, time.Now().UTC()); err != nil {
			e.logger.Error("failed to mark event published", "event_id", ev.ID, "error", err)
		}
		e.plugins.EmitEventPublished(ctx, ev)
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// validateScope rejects empty tenant or entity identifiers.
func validateScope(tenantID, entityID string) error {
	if tenantID == "" {
		return ValidationError{Field: "tenant_id", Message: "must not be empty"}
	}
	if entityID == "" {
		return ValidationError{Field: "entity_id", Message: "must not be empty"}
	}
	return nil
}

// checkApplication enforces the optional application allowlist.
func (e *Engine) checkApplication(app string) error {
	if app == "" {
		return ValidationError{Field: "application", Message: "must not be empty"}
	}
	if len(e.applications) > 0 && !e.applications[app] {
		return ErrUnknownApplication
	}
	return nil
}

// matchPrior verifies that a replayed operation carries the same arguments
// as the transaction it originally produced. A prior row with different
// type, scope, or amount means the caller reused an operation id.
func matchPrior(prior *transaction.Transaction, typ transaction.Type, entityID string, amount types.Credits) error {
	if prior.Type != typ || prior.EntityID != entityID || prior.Amount != amount {
		return ErrDuplicateOperation
	}
	return nil
}

// accountForUpdate returns the locked account for a scope, creating it when
// createIfMissing is set. Disabled accounts reject all mutations.
func accountForUpdate(tx store.Tx, scope account.Scope, createIfMissing bool) (*account.Account, error) {
	acct, err := tx.Account(scope)
	if err != nil {
		if IsNotFound(err) && createIfMissing {
			acct = account.New(scope)
			if err := tx.CreateAccount(acct); err != nil {
				return nil, err
			}
			return acct, nil
		}
		return nil, err
	}
	if !acct.IsActive {
		return nil, ErrAccountDisabled
	}
	return acct, nil
}

// poolDebit records how much one pool contributed to a debit.
type poolDebit struct {
	pool   *account.Pool
	amount types.Credits
}

// debitPools draws amount from the scope's spendable pools in consumption
// order and persists each debit. The caller must have verified that the
// spendable total covers the amount. Returns the per-pool debits in the
// order they were taken.
func debitPools(tx store.Tx, pools []*account.Pool, amount types.Credits, now time.Time) ([]poolDebit, error) {
	remaining := amount
	var debits []poolDebit

	for remaining.IsPositive() {
		p := account.SelectPool(pools, remaining, now)
		if p == nil {
			return nil, ErrInsufficientCredits
		}

		take := p.Amount.Min(remaining)
		p.Amount = p.Amount.Sub(take)
		if p.Amount.IsZero() {
			p.Status = account.PoolExhausted
		}
		p.Touch()
		if err := tx.UpdatePool(p); err != nil {
			return nil, err
		}

		debits = append(debits, poolDebit{pool: p, amount: take})
		remaining = remaining.Sub(take)
	}

	return debits, nil
}
