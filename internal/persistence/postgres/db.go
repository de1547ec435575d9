// Package postgres implements the persistence repositories on PostgreSQL via
// sqlx. Writes upsert on the natural keys so re-running a window is safe.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const defaultTimeout = 10 * time.Second

// Connect opens and pings a postgres connection.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate creates the tables when they do not exist yet.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS canonical_records (
			product_id    TEXT             NOT NULL,
			shop          TEXT             NOT NULL,
			date          DATE             NOT NULL,
			spend         DOUBLE PRECISION NOT NULL DEFAULT 0,
			ad_sales      DOUBLE PRECISION NOT NULL DEFAULT 0,
			organic_sales DOUBLE PRECISION NOT NULL DEFAULT 0,
			sales         DOUBLE PRECISION NOT NULL DEFAULT 0,
			impressions   DOUBLE PRECISION NOT NULL DEFAULT 0,
			clicks        DOUBLE PRECISION NOT NULL DEFAULT 0,
			orders        DOUBLE PRECISION NOT NULL DEFAULT 0,
			ad_orders     DOUBLE PRECISION NOT NULL DEFAULT 0,
			units         DOUBLE PRECISION NOT NULL DEFAULT 0,
			sessions      DOUBLE PRECISION NOT NULL DEFAULT 0,
			inventory     DOUBLE PRECISION,
			category      TEXT             NOT NULL DEFAULT '',
			product_name  TEXT             NOT NULL DEFAULT '',
			status        TEXT             NOT NULL DEFAULT '',
			completeness  TEXT             NOT NULL,
			updated_at    TIMESTAMPTZ      NOT NULL DEFAULT now(),
			PRIMARY KEY (product_id, shop, date)
		)`,
		`CREATE TABLE IF NOT EXISTS stage_timeline (
			product_id   TEXT             NOT NULL,
			shop         TEXT             NOT NULL,
			date         DATE             NOT NULL,
			stage        TEXT             NOT NULL,
			confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
			reason_codes TEXT[]           NOT NULL DEFAULT '{}',
			gap          BOOLEAN          NOT NULL DEFAULT FALSE,
			insufficient BOOLEAN          NOT NULL DEFAULT FALSE,
			updated_at   TIMESTAMPTZ      NOT NULL DEFAULT now(),
			PRIMARY KEY (product_id, shop, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stage_timeline_shop_date ON stage_timeline (shop, date DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
