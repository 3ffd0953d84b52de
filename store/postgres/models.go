package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	"github.com/xraph/credits/allocation"
	"github.com/xraph/credits/event"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"
)

// Column lists, kept in sync with the scanners below and the migrations.
const (
	accountColumns     = `id, tenant_id, entity_id, available, total_granted, is_active, policy, created_at, updated_at`
	poolColumns        = `id, account_id, tenant_id, entity_id, source, batch_id, amount, granted, expires_at, status, created_at, updated_at`
	allocationColumns  = `id, tenant_id, application, source_entity_id, purpose, allocated, used, expires_at, auto_replenish, created_at, updated_at`
	transactionColumns = `id, tenant_id, entity_id, type, amount, balance_before, balance_after, pool_id, allocation_id, transfer_id, operation_id, operation_code, actor, description, timestamp, created_at, updated_at`
	eventColumns       = `id, tenant_id, entity_id, type, payload, status, attempts, last_error, published_at, created_at, updated_at`
)

func marshalPolicy(p *account.Policy) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: marshal policy: %w", err)
	}
	return data, nil
}

func scanAccount(row pgx.Row) (*account.Account, error) {
	var (
		acct      account.Account
		available int64
		granted   int64
		policy    []byte
	)
	err := row.Scan(&acct.ID, &acct.TenantID, &acct.EntityID, &available, &granted,
		&acct.IsActive, &policy, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credits.ErrAccountNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}

	acct.Available = types.Credits(available)
	acct.TotalGranted = types.Credits(granted)
	if len(policy) > 0 {
		var p account.Policy
		if err := json.Unmarshal(policy, &p); err != nil {
			return nil, fmt.Errorf("credits/postgres: unmarshal policy: %w", err)
		}
		acct.Policy = &p
	}
	return &acct, nil
}

func scanPool(row pgx.Row) (*account.Pool, error) {
	var (
		pool      account.Pool
		source    string
		status    string
		amount    int64
		granted   int64
		expiresAt *time.Time
	)
	err := row.Scan(&pool.ID, &pool.AccountID, &pool.TenantID, &pool.EntityID, &source,
		&pool.BatchID, &amount, &granted, &expiresAt, &status, &pool.CreatedAt, &pool.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credits.ErrPoolNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}

	pool.Source = account.Source(source)
	pool.Status = account.PoolStatus(status)
	pool.Amount = types.Credits(amount)
	pool.Granted = types.Credits(granted)
	pool.ExpiresAt = expiresAt
	return &pool, nil
}

func scanPools(rows pgx.Rows) ([]*account.Pool, error) {
	result := make([]*account.Pool, 0)
	for rows.Next() {
		pool, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pool)
	}
	return result, rows.Err()
}

func scanAllocation(row pgx.Row) (*allocation.Allocation, error) {
	var (
		alloc     allocation.Allocation
		allocated int64
		used      int64
		expiresAt *time.Time
	)
	err := row.Scan(&alloc.ID, &alloc.TenantID, &alloc.Application, &alloc.SourceEntityID,
		&alloc.Purpose, &allocated, &used, &expiresAt, &alloc.AutoReplenish,
		&alloc.CreatedAt, &alloc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credits.ErrAllocationNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}

	alloc.Allocated = types.Credits(allocated)
	alloc.Used = types.Credits(used)
	alloc.ExpiresAt = expiresAt
	return &alloc, nil
}

func scanTransaction(row pgx.Row) (*transaction.Transaction, error) {
	var (
		txn    transaction.Transaction
		typ    string
		amount int64
		before int64
		after  int64
	)
	err := row.Scan(&txn.ID, &txn.TenantID, &txn.EntityID, &typ, &amount, &before, &after,
		&txn.PoolID, &txn.AllocationID, &txn.TransferID,
		&txn.OperationID, &txn.OperationCode, &txn.Actor, &txn.Description,
		&txn.Timestamp, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		// Callers translate ErrNoRows themselves; idempotency lookups treat
		// it as "no prior operation" rather than an error.
		return nil, err
	}

	txn.Type = transaction.Type(typ)
	txn.Amount = types.Credits(amount)
	txn.BalanceBefore = types.Credits(before)
	txn.BalanceAfter = types.Credits(after)
	return &txn, nil
}

func scanEvent(row pgx.Row) (*event.Event, error) {
	var (
		ev      event.Event
		typ     string
		status  string
		payload []byte
	)
	err := row.Scan(&ev.ID, &ev.TenantID, &ev.EntityID, &typ, &payload, &status,
		&ev.Attempts, &ev.LastError, &ev.PublishedAt, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}

	ev.Type = event.Type(typ)
	ev.Status = event.Status(status)
	ev.Payload = payload
	return &ev, nil
}
