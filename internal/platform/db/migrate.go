package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the idempotent DDL applied at startup. Statements are ordered
// parent-first so foreign keys resolve on a fresh database.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		price NUMERIC(18,4) NOT NULL DEFAULT 0,
		purchase_price NUMERIC(18,4) NOT NULL DEFAULT 0,
		quantity BIGINT NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		damaged_quantity BIGINT NOT NULL DEFAULT 0,
		low_stock_threshold BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS contacts (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		remaining_amount NUMERIC(18,4) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id BIGSERIAL PRIMARY KEY,
		bill_number VARCHAR(7) NOT NULL UNIQUE,
		contact_id BIGINT REFERENCES contacts(id),
		discount NUMERIC(18,4) NOT NULL DEFAULT 0,
		total_amount NUMERIC(18,4) NOT NULL DEFAULT 0,
		original_total_amount NUMERIC(18,4) NOT NULL DEFAULT 0,
		paid_amount NUMERIC(18,4) NOT NULL DEFAULT 0,
		refund_mode VARCHAR(16) NOT NULL DEFAULT 'NONE',
		sale_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id BIGSERIAL PRIMARY KEY,
		sale_id BIGINT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		product_id BIGINT NOT NULL REFERENCES products(id),
		quantity BIGINT NOT NULL CHECK (quantity > 0),
		price NUMERIC(18,4) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sale_returns (
		id BIGSERIAL PRIMARY KEY,
		return_number VARCHAR(32) NOT NULL UNIQUE,
		sale_id BIGINT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		total_amount NUMERIC(18,4) NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		removed_from_stock BOOLEAN NOT NULL DEFAULT FALSE,
		refund_amount NUMERIC(18,4) NOT NULL DEFAULT 0,
		refund_paid BOOLEAN NOT NULL DEFAULT FALSE,
		refund_date TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS sale_return_items (
		id BIGSERIAL PRIMARY KEY,
		return_id BIGINT NOT NULL REFERENCES sale_returns(id) ON DELETE CASCADE,
		product_id BIGINT NOT NULL REFERENCES products(id),
		quantity BIGINT NOT NULL CHECK (quantity > 0),
		price NUMERIC(18,4) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bulk_purchases (
		id BIGSERIAL PRIMARY KEY,
		purchase_number VARCHAR(16) NOT NULL UNIQUE,
		contact_id BIGINT REFERENCES contacts(id),
		total_amount NUMERIC(18,4) NOT NULL DEFAULT 0,
		paid_amount NUMERIC(18,4) NOT NULL DEFAULT 0,
		purchase_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS bulk_purchase_items (
		id BIGSERIAL PRIMARY KEY,
		purchase_id BIGINT NOT NULL REFERENCES bulk_purchases(id) ON DELETE CASCADE,
		product_id BIGINT NOT NULL REFERENCES products(id),
		quantity BIGINT NOT NULL CHECK (quantity > 0),
		price NUMERIC(18,4) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS loan_transactions (
		id BIGSERIAL PRIMARY KEY,
		contact_id BIGINT NOT NULL REFERENCES contacts(id),
		type VARCHAR(32) NOT NULL,
		amount NUMERIC(18,4) NOT NULL CHECK (amount > 0),
		note TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products(id),
		direction VARCHAR(3) NOT NULL,
		quantity BIGINT NOT NULL CHECK (quantity > 0),
		balance_after BIGINT NOT NULL,
		ref_module VARCHAR(32) NOT NULL,
		ref_id BIGINT NOT NULL DEFAULT 0,
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_movements_product ON stock_movements (product_id, occurred_at)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		action TEXT NOT NULL,
		entity TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		meta JSONB NOT NULL DEFAULT '{}',
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		key TEXT PRIMARY KEY,
		module TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS low_stock_alerts (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products(id),
		quantity BIGINT NOT NULL,
		threshold BIGINT NOT NULL,
		alert_date DATE NOT NULL DEFAULT CURRENT_DATE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (product_id, alert_date)
	)`,
}

// Migrate applies the schema, creating missing tables. Safe to run at every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("platform/db: migrate: %w", err)
		}
	}
	return nil
}
