package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the tables if they do not exist yet. Production
// deployments run versioned migrations instead; this keeps local setups and
// integration tests self-contained.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sellers (
    id                 TEXT PRIMARY KEY,
    shop_name          TEXT NOT NULL,
    payout_method      TEXT NOT NULL DEFAULT '',
    payout_account_ref TEXT NOT NULL DEFAULT '',
    commission_rate    NUMERIC(6,4),
    active             BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS products (
    id         TEXT PRIMARY KEY,
    seller_id  TEXT NOT NULL REFERENCES sellers(id),
    title      TEXT NOT NULL,
    sku        TEXT NOT NULL,
    price      NUMERIC(12,2) NOT NULL,
    stock      INTEGER NOT NULL CHECK (stock >= 0),
    active     BOOLEAN NOT NULL DEFAULT TRUE,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS product_variations (
    id         TEXT PRIMARY KEY,
    product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
    name       TEXT NOT NULL,
    value      TEXT NOT NULL,
    sku        TEXT NOT NULL,
    price      NUMERIC(12,2) NOT NULL,
    stock      INTEGER NOT NULL CHECK (stock >= 0)
);

CREATE TABLE IF NOT EXISTS coupons (
    code             TEXT PRIMARY KEY,
    id               TEXT NOT NULL,
    name             TEXT NOT NULL DEFAULT '',
    type             TEXT NOT NULL,
    value            NUMERIC(12,2) NOT NULL DEFAULT 0,
    minimum_amount   NUMERIC(12,2) NOT NULL DEFAULT 0,
    maximum_discount NUMERIC(12,2) NOT NULL DEFAULT 0,
    usage_limit      INTEGER NOT NULL DEFAULT 0,
    used_count       INTEGER NOT NULL DEFAULT 0 CHECK (used_count >= 0),
    user_limit       INTEGER NOT NULL DEFAULT 1,
    valid_from       TIMESTAMPTZ NOT NULL,
    valid_until      TIMESTAMPTZ NOT NULL,
    active           BOOLEAN NOT NULL DEFAULT TRUE,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS coupon_redemptions (
    code    TEXT NOT NULL REFERENCES coupons(code),
    user_id TEXT NOT NULL,
    count   INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
    PRIMARY KEY (code, user_id)
);

CREATE TABLE IF NOT EXISTS orders (
    id               TEXT PRIMARY KEY,
    number           TEXT NOT NULL UNIQUE,
    buyer_id         TEXT NOT NULL,
    status           TEXT NOT NULL,
    currency         TEXT NOT NULL,
    subtotal         NUMERIC(12,2) NOT NULL,
    tax              NUMERIC(12,2) NOT NULL,
    shipping         NUMERIC(12,2) NOT NULL,
    discount         NUMERIC(12,2) NOT NULL,
    total            NUMERIC(12,2) NOT NULL,
    coupon_code      TEXT NOT NULL DEFAULT '',
    billing_address  JSONB NOT NULL,
    shipping_address JSONB NOT NULL,
    notes            TEXT NOT NULL DEFAULT '',
    tracking_number  TEXT NOT NULL DEFAULT '',
    shipped_at       TIMESTAMPTZ,
    delivered_at     TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_buyer_idx ON orders (buyer_id, created_at DESC);
CREATE INDEX IF NOT EXISTS orders_status_idx ON orders (status, created_at);

CREATE TABLE IF NOT EXISTS order_items (
    id           TEXT PRIMARY KEY,
    order_id     TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    product_id   TEXT NOT NULL,
    variation_id TEXT NOT NULL DEFAULT '',
    seller_id    TEXT NOT NULL,
    title        TEXT NOT NULL,
    sku          TEXT NOT NULL,
    quantity     INTEGER NOT NULL,
    unit_price   NUMERIC(12,2) NOT NULL,
    total_price  NUMERIC(12,2) NOT NULL,
    position     INTEGER NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS order_items_order_idx ON order_items (order_id, position);
CREATE INDEX IF NOT EXISTS order_items_seller_idx ON order_items (seller_id);

CREATE TABLE IF NOT EXISTS order_groups (
    order_id  TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    seller_id TEXT NOT NULL,
    subtotal  NUMERIC(12,2) NOT NULL,
    discount  NUMERIC(12,2) NOT NULL,
    position  INTEGER NOT NULL,
    PRIMARY KEY (order_id, seller_id)
);

CREATE TABLE IF NOT EXISTS payments (
    id               TEXT PRIMARY KEY,
    order_id         TEXT NOT NULL REFERENCES orders(id),
    gateway          TEXT NOT NULL,
    amount           NUMERIC(12,2) NOT NULL,
    currency         TEXT NOT NULL,
    status           TEXT NOT NULL,
    attempt          INTEGER NOT NULL,
    transaction_id   TEXT,
    idempotency_key  TEXT NOT NULL UNIQUE,
    gateway_response JSONB,
    failure_reason   TEXT NOT NULL DEFAULT '',
    processed_at     TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS payments_txn_idx ON payments (transaction_id) WHERE transaction_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS payments_order_idx ON payments (order_id, attempt);

CREATE TABLE IF NOT EXISTS order_settlements (
    order_id   TEXT PRIMARY KEY REFERENCES orders(id),
    settled_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS seller_payouts (
    id                TEXT PRIMARY KEY,
    seller_id         TEXT NOT NULL,
    order_id          TEXT NOT NULL REFERENCES orders(id),
    order_item_id     TEXT NOT NULL,
    amount            NUMERIC(12,2) NOT NULL,
    commission_rate   NUMERIC(6,4) NOT NULL,
    commission_amount NUMERIC(12,2) NOT NULL,
    net_amount        NUMERIC(12,2) NOT NULL,
    status            TEXT NOT NULL,
    payout_method     TEXT NOT NULL DEFAULT '',
    processed_at      TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS seller_payouts_order_idx ON seller_payouts (order_id, created_at);
CREATE INDEX IF NOT EXISTS seller_payouts_seller_idx ON seller_payouts (seller_id, created_at DESC);
`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}
