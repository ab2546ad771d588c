// Package postgres provides Postgres-backed persistence for tenders, alerts
// and source settings.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of pgxpool.Pool the stores use. pgxmock pools satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Connect opens a pool using cfg.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS tenders (
	id             BIGSERIAL PRIMARY KEY,
	nomenclatura   TEXT NOT NULL UNIQUE,
	objeto         TEXT NOT NULL DEFAULT '',
	entidad        TEXT NOT NULL DEFAULT '',
	tipo_seleccion TEXT NOT NULL DEFAULT '',
	url            TEXT NOT NULL DEFAULT '',
	key_dates      JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS tender_stages (
	tender_id  BIGINT NOT NULL REFERENCES tenders(id) ON DELETE CASCADE,
	position   INT NOT NULL,
	name       TEXT NOT NULL,
	start_date TIMESTAMPTZ,
	end_date   TIMESTAMPTZ,
	PRIMARY KEY (tender_id, position)
);
CREATE TABLE IF NOT EXISTS alerts (
	id                BIGSERIAL PRIMARY KEY,
	source            TEXT NOT NULL,
	fingerprint       TEXT NOT NULL UNIQUE,
	titulo            TEXT NOT NULL,
	contenido         TEXT NOT NULL,
	fuente            TEXT NOT NULL,
	url_origen        TEXT NOT NULL DEFAULT '',
	fecha_publicacion TIMESTAMPTZ NOT NULL,
	region            TEXT NOT NULL DEFAULT '',
	entidad           TEXT NOT NULL DEFAULT '',
	monto             DOUBLE PRECISION,
	tipo              TEXT NOT NULL,
	read              BOOLEAN NOT NULL DEFAULT false,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS alerts_purge_idx ON alerts (source, read, created_at);
`

// Migrate creates the tables when they do not exist.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
