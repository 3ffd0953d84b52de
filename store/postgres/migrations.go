package postgres

import (
	"context"
	"fmt"

	"github.com/xraph/credits"
)

// Migrate creates the schema. Idempotent; safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id            TEXT PRIMARY KEY,
    tenant_id     TEXT NOT NULL DEFAULT '',
    entity_id     TEXT NOT NULL DEFAULT '',
    available     BIGINT NOT NULL DEFAULT 0,
    total_granted BIGINT NOT NULL DEFAULT 0,
    is_active     BOOLEAN NOT NULL DEFAULT TRUE,
    policy        JSONB,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_accounts_scope ON %s (tenant_id, entity_id);
`, s.accountsTable(), s.accountsTable()),

		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id         TEXT PRIMARY KEY,
    account_id TEXT NOT NULL DEFAULT '',
    tenant_id  TEXT NOT NULL DEFAULT '',
    entity_id  TEXT NOT NULL DEFAULT '',
    source     TEXT NOT NULL DEFAULT '',
    batch_id   TEXT NOT NULL DEFAULT '',
    amount     BIGINT NOT NULL DEFAULT 0,
    granted    BIGINT NOT NULL DEFAULT 0,
    expires_at TIMESTAMPTZ,
    status     TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_credit_pools_scope ON %s (tenant_id, entity_id, status);
CREATE INDEX IF NOT EXISTS idx_credit_pools_expiry ON %s (expires_at) WHERE status = 'active' AND expires_at IS NOT NULL;
`, s.poolsTable(), s.poolsTable(), s.poolsTable()),

		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id               TEXT PRIMARY KEY,
    tenant_id        TEXT NOT NULL DEFAULT '',
    application      TEXT NOT NULL DEFAULT '',
    source_entity_id TEXT NOT NULL DEFAULT '',
    purpose          TEXT NOT NULL DEFAULT '',
    allocated        BIGINT NOT NULL DEFAULT 0,
    used             BIGINT NOT NULL DEFAULT 0,
    expires_at       TIMESTAMPTZ,
    auto_replenish   BOOLEAN NOT NULL DEFAULT FALSE,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_allocations_app ON %s (tenant_id, application);
`, s.allocationsTable(), s.allocationsTable()),

		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id             TEXT PRIMARY KEY,
    tenant_id      TEXT NOT NULL DEFAULT '',
    entity_id      TEXT NOT NULL DEFAULT '',
    type           TEXT NOT NULL DEFAULT '',
    amount         BIGINT NOT NULL DEFAULT 0,
    balance_before BIGINT NOT NULL DEFAULT 0,
    balance_after  BIGINT NOT NULL DEFAULT 0,
    pool_id        TEXT,
    allocation_id  TEXT,
    transfer_id    TEXT,
    operation_id   TEXT NOT NULL DEFAULT '',
    operation_code TEXT NOT NULL DEFAULT '',
    actor          TEXT NOT NULL DEFAULT '',
    description    TEXT NOT NULL DEFAULT '',
    timestamp      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_credit_txns_scope ON %s (tenant_id, entity_id, timestamp);
CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_txns_operation ON %s (tenant_id, operation_id) WHERE operation_id != '';
CREATE INDEX IF NOT EXISTS idx_credit_txns_transfer ON %s (transfer_id) WHERE transfer_id IS NOT NULL;
`, s.transactionsTable(), s.transactionsTable(), s.transactionsTable(), s.transactionsTable()),

		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id           TEXT PRIMARY KEY,
    tenant_id    TEXT NOT NULL DEFAULT '',
    entity_id    TEXT NOT NULL DEFAULT '',
    type         TEXT NOT NULL DEFAULT '',
    payload      JSONB,
    status       TEXT NOT NULL DEFAULT 'pending',
    attempts     INT NOT NULL DEFAULT 0,
    last_error   TEXT NOT NULL DEFAULT '',
    published_at TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_credit_events_pending ON %s (created_at) WHERE status != 'published';
`, s.eventsTable(), s.eventsTable()),
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", credits.ErrMigrationFailed, err)
		}
	}
	return nil
}
