// Package postgres opens the PostgreSQL pool behind the posting mirror and
// owns its schema.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/config"
	_ "github.com/lib/pq"
)

// schema is applied by Migrate. The composite key gives the mirror its set
// semantics: one row per (term, documento).
const schema = `
CREATE TABLE IF NOT EXISTS term_postings (
	term          TEXT             NOT NULL,
	documento     TEXT             NOT NULL CHECK (documento <> ''),
	numero_norma  TEXT,
	tf            DOUBLE PRECISION NOT NULL DEFAULT 0,
	idf           DOUBLE PRECISION NOT NULL DEFAULT 0,
	tf_idf        DOUBLE PRECISION NOT NULL DEFAULT 0,
	fecha         TEXT,
	estado        TEXT             NOT NULL DEFAULT 'activo',
	created_at    TIMESTAMPTZ      NOT NULL DEFAULT now(),
	PRIMARY KEY (term, documento)
);
CREATE INDEX IF NOT EXISTS term_postings_documento_idx ON term_postings (documento);
`

type Client struct {
	DB  *sql.DB
	cfg config.PostgresConfig
}

func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Client{DB: db, cfg: cfg}, nil
}

// Migrate creates the term_postings table when it does not exist yet.
func (c *Client) Migrate(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying term_postings schema: %w", err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// InTx runs fn inside a transaction, rolling back if fn returns an error.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
