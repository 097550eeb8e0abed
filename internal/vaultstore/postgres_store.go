package vaultstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the vault in a PostgreSQL table, one row per session.
type PostgresStore struct {
	pool    *pgxpool.Pool
	session string
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS vault_state (
    session TEXT NOT NULL,
    key TEXT NOT NULL,
    vault_address TEXT NOT NULL,
    fund_token_address TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (session, key)
);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn, session string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	if session == "" {
		session = "default"
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, session: session}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Load(ctx context.Context) (*VaultState, error) {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	row := p.pool.QueryRow(cctx, `
SELECT vault_address, fund_token_address, updated_at
FROM vault_state
WHERE session = $1 AND key = $2
`, p.session, Key)

	var rec record
	if err := row.Scan(&rec.VaultAddress, &rec.FundTokenAddress, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec.state(), nil
}

func (p *PostgresStore) Save(ctx context.Context, state VaultState) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	rec := toRecord(state)
	_, err := p.pool.Exec(cctx, `
INSERT INTO vault_state (session, key, vault_address, fund_token_address, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (session, key) DO UPDATE
SET vault_address = EXCLUDED.vault_address,
    fund_token_address = EXCLUDED.fund_token_address,
    updated_at = EXCLUDED.updated_at
`, p.session, Key, rec.VaultAddress, rec.FundTokenAddress, rec.UpdatedAt)
	return err
}

func (p *PostgresStore) deleteSession(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM vault_state WHERE session = $1`, p.session)
	return err
}
