// internal/common/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"order-workers/internal/common/config"

	_ "github.com/lib/pq"
)

// Schema creates the tables the catalog and order stores use. Every
// statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS catalog_entries (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	aliases              TEXT[] NOT NULL DEFAULT '{}',
	ai_training_examples TEXT[] NOT NULL DEFAULT '{}',
	common_misspellings  TEXT[] NOT NULL DEFAULT '{}',
	keywords             TEXT[] NOT NULL DEFAULT '{}',
	active               BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS orders (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	customer_id     TEXT,
	status          TEXT NOT NULL,
	delivery_date   TEXT,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_conversation_created_idx ON orders (conversation_id, created_at DESC);

CREATE TABLE IF NOT EXISTS order_items (
	order_id     TEXT NOT NULL REFERENCES orders (id),
	catalog_id   TEXT NOT NULL,
	catalog_name TEXT NOT NULL,
	quantity     INTEGER NOT NULL CHECK (quantity > 0),
	unit         TEXT NOT NULL DEFAULT '',
	mention_text TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (order_id, catalog_id)
);

CREATE TABLE IF NOT EXISTS processed_messages (
	message_id      TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	order_id        TEXT,
	action          TEXT NOT NULL,
	processed_at    TIMESTAMPTZ NOT NULL
);
`

// PostgresClient wraps the SQL database connection
type PostgresClient struct {
	DB *sql.DB
}

// NewPostgres opens a pool. It does not dial; call Ping to verify.
func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresClient{DB: db}, nil
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	if err := c.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

// Migrate applies Schema.
func (c *PostgresClient) Migrate(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
