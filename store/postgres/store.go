// Package postgres provides a PostgreSQL-backed store for the credit engine.
//
// Every mutation runs inside a database transaction that first takes
// per-scope advisory locks in sorted key order, so concurrent updates of the
// same scope serialize and multi-scope updates cannot deadlock. This makes
// the store safe for multi-instance deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/allocation"
	"github.com/xraph/credits/event"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/store"
	"github.com/xraph/credits/transaction"
)

// Store is a PostgreSQL-backed credit store.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var _ store.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "credit_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New connects to PostgreSQL and returns a Store.
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: connect: %w", err)
	}
	return NewWithPool(pool, opts...), nil
}

// NewWithPool wraps an existing connection pool.
func NewWithPool(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "credit_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) accountsTable() string     { return s.tablePrefix + "accounts" }
func (s *Store) poolsTable() string        { return s.tablePrefix + "pools" }
func (s *Store) allocationsTable() string  { return s.tablePrefix + "allocations" }
func (s *Store) transactionsTable() string { return s.tablePrefix + "transactions" }
func (s *Store) eventsTable() string       { return s.tablePrefix + "events" }

// mapError converts driver errors to the engine's sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			// serialization failure, deadlock, lock not available
			return fmt.Errorf("%w: %s", credits.ErrConcurrencyConflict, pgErr.Message)
		case "23505":
			// unique violation: a concurrent update won the race, the
			// retry will observe its result
			return fmt.Errorf("%w: %s", credits.ErrConcurrencyConflict, pgErr.Message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", credits.ErrStoreUnavailable, err)
	}
	return err
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

func (s *Store) GetAccount(ctx context.Context, scope account.Scope) (*account.Account, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1 AND entity_id = $2`,
			accountColumns, s.accountsTable()),
		scope.TenantID, scope.EntityID,
	)
	return scanAccount(row)
}

func (s *Store) GetPools(ctx context.Context, scope account.Scope) ([]*account.Pool, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1 AND entity_id = $2 ORDER BY created_at, id`,
			poolColumns, s.poolsTable()),
		scope.TenantID, scope.EntityID,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return scanPools(rows)
}

func (s *Store) GetAllocation(ctx context.Context, tenantID, application string) (*allocation.Allocation, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1 AND application = $2`,
			allocationColumns, s.allocationsTable()),
		tenantID, application,
	)
	return scanAllocation(row)
}

func (s *Store) ListAllocations(ctx context.Context, tenantID string) ([]*allocation.Allocation, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1 ORDER BY application`,
			allocationColumns, s.allocationsTable()),
		tenantID,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]*allocation.Allocation, 0)
	for rows.Next() {
		alloc, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, alloc)
	}
	return result, rows.Err()
}

func (s *Store) GetTransactionByOperation(ctx context.Context, tenantID, operationID string) (*transaction.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1 AND operation_id = $2`,
			transactionColumns, s.transactionsTable()),
		tenantID, operationID,
	)
	txn, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return txn, err
}

func (s *Store) ListTransactions(ctx context.Context, scope account.Scope, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1 AND entity_id = $2`,
		transactionColumns, s.transactionsTable())
	args := []any{scope.TenantID, scope.EntityID}

	if opts.Type != "" {
		args = append(args, string(opts.Type))
		query += fmt.Sprintf(` AND type = $%d`, len(args))
	}
	if !opts.Since.IsZero() {
		args = append(args, opts.Since)
		query += fmt.Sprintf(` AND timestamp >= $%d`, len(args))
	}
	if !opts.Until.IsZero() {
		args = append(args, opts.Until)
		query += fmt.Sprintf(` AND timestamp <= $%d`, len(args))
	}

	query += ` ORDER BY timestamp DESC, id DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]*transaction.Transaction, 0)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, txn)
	}
	return result, rows.Err()
}

func (s *Store) ListExpiredScopes(ctx context.Context, now time.Time, limit int) ([]account.Scope, error) {
	query := fmt.Sprintf(`SELECT DISTINCT tenant_id, entity_id FROM %s
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY tenant_id, entity_id`, s.poolsTable())
	args := []any{now}
	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $2`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]account.Scope, 0)
	for rows.Next() {
		var scope account.Scope
		if err := rows.Scan(&scope.TenantID, &scope.EntityID); err != nil {
			return nil, err
		}
		result = append(result, scope)
	}
	return result, rows.Err()
}

// ──────────────────────────────────────────────────
// Outbox
// ──────────────────────────────────────────────────

func (s *Store) ListPendingEvents(ctx context.Context, limit int) ([]*event.Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE status != 'published' ORDER BY created_at, id`,
		eventColumns, s.eventsTable())
	args := []any{}
	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $1`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]*event.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

func (s *Store) MarkEventPublished(ctx context.Context, eventID id.EventID, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = 'published', attempts = attempts + 1,
			published_at = $1, updated_at = NOW() WHERE id = $2`, s.eventsTable()),
		at, eventID,
	)
	return mapError(err)
}

func (s *Store) MarkEventFailed(ctx context.Context, eventID id.EventID, reason string) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = 'failed', attempts = attempts + 1,
			last_error = $1, updated_at = NOW() WHERE id = $2`, s.eventsTable()),
		reason, eventID,
	)
	return mapError(err)
}

// ──────────────────────────────────────────────────
// Update
// ──────────────────────────────────────────────────

func (s *Store) Update(ctx context.Context, scopes []account.Scope, fn func(tx store.Tx) error) error {
	if len(scopes) == 0 {
		return credits.ErrInvalidInput
	}

	sorted := account.SortScopes(scopes)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", credits.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	// Transaction-scoped advisory locks, acquired in sorted key order.
	// Released automatically at commit or rollback.
	for _, scope := range sorted {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, scope.Key()); err != nil {
			return mapError(err)
		}
	}

	ptx := &pgTx{ctx: ctx, tx: tx, store: s}
	if err := fn(ptx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", credits.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ──────────────────────────────────────────────────
// Transaction surface
// ──────────────────────────────────────────────────

type pgTx struct {
	ctx   context.Context
	tx    pgx.Tx
	store *Store
}

var _ store.Tx = (*pgTx)(nil)

func (t *pgTx) Account(scope account.Scope) (*account.Account, error) {
	row := t.tx.QueryRow(t.ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1 AND entity_id = $2 FOR UPDATE`,
			accountColumns, t.store.accountsTable()),
		scope.TenantID, scope.EntityID,
	)
	return scanAccount(row)
}

func (t *pgTx) CreateAccount(acct *account.Account) error {
	policy, err := marshalPolicy(acct.Policy)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(t.ctx,
		fmt.Sprintf(`INSERT INTO %s (id, tenant_id, entity_id, available, total_granted, is_active, policy, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, t.store.accountsTable()),
		acct.ID, acct.TenantID, acct.EntityID, acct.Available.Int64(), acct.TotalGranted.Int64(),
		acct.IsActive, policy, acct.CreatedAt, acct.UpdatedAt,
	)
	return mapError(err)
}

func (t *pgTx) SaveAccount(acct *account.Account) error {
	policy, err := marshalPolicy(acct.Policy)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(t.ctx,
		fmt.Sprintf(`UPDATE %s SET available = $1, total_granted = $2, is_active = $3, policy = $4, updated_at = $5
			WHERE id = $6`, t.store.accountsTable()),
		acct.Available.Int64(), acct.TotalGranted.Int64(), acct.IsActive, policy, acct.UpdatedAt, acct.ID,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return credits.ErrAccountNotFound
	}
	return nil
}

func (t *pgTx) Pools(scope account.Scope) ([]*account.Pool, error) {
	rows, err := t.tx.Query(t.ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1 AND entity_id = $2 ORDER BY created_at, id FOR UPDATE`,
			poolColumns, t.store.poolsTable()),
		scope.TenantID, scope.EntityID,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return scanPools(rows)
}

func (t *pgTx) InsertPool(pool *account.Pool) error {
	_, err := t.tx.Exec(t.ctx,
		fmt.Sprintf(`INSERT INTO %s (id, account_id, tenant_id, entity_id, source, batch_id, amount, granted, expires_at, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, t.store.poolsTable()),
		pool.ID, pool.AccountID, pool.TenantID, pool.EntityID, string(pool.Source), pool.BatchID,
		pool.Amount.Int64(), pool.Granted.Int64(), pool.ExpiresAt, string(pool.Status),
		pool.CreatedAt, pool.UpdatedAt,
	)
	return mapError(err)
}

func (t *pgTx) UpdatePool(pool *account.Pool) error {
	tag, err := t.tx.Exec(t.ctx,
		fmt.Sprintf(`UPDATE %s SET amount = $1, status = $2, expires_at = $3, updated_at = $4 WHERE id = $5`,
			t.store.poolsTable()),
		pool.Amount.Int64(), string(pool.Status), pool.ExpiresAt, pool.UpdatedAt, pool.ID,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return credits.ErrPoolNotFound
	}
	return nil
}

func (t *pgTx) Allocation(tenantID, application string) (*allocation.Allocation, error) {
	row := t.tx.QueryRow(t.ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1 AND application = $2 FOR UPDATE`,
			allocationColumns, t.store.allocationsTable()),
		tenantID, application,
	)
	return scanAllocation(row)
}

func (t *pgTx) SaveAllocation(alloc *allocation.Allocation) error {
	_, err := t.tx.Exec(t.ctx,
		fmt.Sprintf(`INSERT INTO %s (id, tenant_id, application, source_entity_id, purpose, allocated, used, expires_at, auto_replenish, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (tenant_id, application) DO UPDATE SET
				allocated = EXCLUDED.allocated,
				used = EXCLUDED.used,
				expires_at = EXCLUDED.expires_at,
				auto_replenish = EXCLUDED.auto_replenish,
				updated_at = EXCLUDED.updated_at`, t.store.allocationsTable()),
		alloc.ID, alloc.TenantID, alloc.Application, alloc.SourceEntityID, alloc.Purpose,
		alloc.Allocated.Int64(), alloc.Used.Int64(), alloc.ExpiresAt, alloc.AutoReplenish,
		alloc.CreatedAt, alloc.UpdatedAt,
	)
	return mapError(err)
}

func (t *pgTx) TransactionByOperation(tenantID, operationID string) (*transaction.Transaction, error) {
	row := t.tx.QueryRow(t.ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id = $1 AND operation_id = $2`,
			transactionColumns, t.store.transactionsTable()),
		tenantID, operationID,
	)
	txn, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return txn, err
}

func (t *pgTx) InsertTransaction(txn *transaction.Transaction) error {
	_, err := t.tx.Exec(t.ctx,
		fmt.Sprintf(`INSERT INTO %s (id, tenant_id, entity_id, type, amount, balance_before, balance_after,
			pool_id, allocation_id, transfer_id, operation_id, operation_code, actor, description, timestamp, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			t.store.transactionsTable()),
		txn.ID, txn.TenantID, txn.EntityID, string(txn.Type),
		txn.Amount.Int64(), txn.BalanceBefore.Int64(), txn.BalanceAfter.Int64(),
		txn.PoolID, txn.AllocationID, txn.TransferID,
		txn.OperationID, txn.OperationCode, txn.Actor, txn.Description,
		txn.Timestamp, txn.CreatedAt, txn.UpdatedAt,
	)
	return mapError(err)
}

func (t *pgTx) InsertEvent(e *event.Event) error {
	_, err := t.tx.Exec(t.ctx,
		fmt.Sprintf(`INSERT INTO %s (id, tenant_id, entity_id, type, payload, status, attempts, last_error, published_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, t.store.eventsTable()),
		e.ID, e.TenantID, e.EntityID, string(e.Type), []byte(e.Payload), string(e.Status),
		e.Attempts, e.LastError, e.PublishedAt, e.CreatedAt, e.UpdatedAt,
	)
	return mapError(err)
}
