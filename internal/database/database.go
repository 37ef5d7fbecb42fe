// Package database owns the Postgres connection and schema bootstrap.
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS webhook_subscriptions (
	id                    UUID PRIMARY KEY,
	tenant_id             TEXT NOT NULL,
	name                  TEXT NOT NULL,
	target_url            TEXT NOT NULL,
	events                TEXT[] NOT NULL,
	secret                TEXT NOT NULL,
	is_active             BOOLEAN NOT NULL DEFAULT TRUE,
	max_retries           INT NOT NULL DEFAULT 3,
	timeout_seconds       INT NOT NULL DEFAULT 30,
	headers               JSONB,
	total_deliveries      BIGINT NOT NULL DEFAULT 0,
	successful_deliveries BIGINT NOT NULL DEFAULT 0,
	failed_deliveries     BIGINT NOT NULL DEFAULT 0,
	last_triggered_at     TIMESTAMPTZ,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_webhook_subscriptions_tenant ON webhook_subscriptions (tenant_id);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id               UUID PRIMARY KEY,
	subscription_id  UUID NOT NULL,
	tenant_id        TEXT NOT NULL,
	event            TEXT NOT NULL,
	payload          JSONB NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	attempt_count    INT NOT NULL DEFAULT 0,
	http_status_code INT,
	error_message    TEXT,
	response_body    TEXT,
	duration_ms      BIGINT NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	delivered_at     TIMESTAMPTZ,
	next_retry_at    TIMESTAMPTZ,
	version          BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_tenant_created ON webhook_deliveries (tenant_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_due ON webhook_deliveries (next_retry_at) WHERE status = 'retrying';
CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_pending ON webhook_deliveries (created_at) WHERE status = 'pending';
`

// Connect opens a pgx pool and verifies the connection.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Migrate applies the schema. Statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
