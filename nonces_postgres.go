package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresNonceSchema = `
CREATE TABLE IF NOT EXISTS router_nonces (
  nonce TEXT PRIMARY KEY,
  consumed_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresNonceRegistry shares the ledger between router processes. A reservation holds an
// uncommitted insert, so a concurrent insert of the same nonce from any process waits on the primary
// key until the reservation commits (and then fails) or rolls back (and then succeeds).
type PostgresNonceRegistry struct {
	DB *pgxpool.Pool
}

func OpenPostgresNonceRegistry(ctx context.Context, dsn string) (*PostgresNonceRegistry, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry := &PostgresNonceRegistry{DB: pool}
	if err := registry.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return registry, nil
}

func (registry *PostgresNonceRegistry) EnsureSchema(ctx context.Context) error {
	_, err := registry.DB.Exec(ctx, postgresNonceSchema)
	return err
}

func (registry *PostgresNonceRegistry) Reserve(ctx context.Context, nonce []byte) (NonceReservation, error) {
	tx, err := registry.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
INSERT INTO router_nonces(nonce)
VALUES($1)
ON CONFLICT (nonce) DO NOTHING
`, NonceKey(nonce))
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return nil, ErrNonceAlreadyUsed
	}

	return &postgresReservation{tx: tx}, nil
}

func (registry *PostgresNonceRegistry) IsConsumed(ctx context.Context, nonce []byte) (bool, error) {
	var consumed bool
	err := registry.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM router_nonces WHERE nonce=$1)`, NonceKey(nonce)).Scan(&consumed)
	return consumed, err
}

func (registry *PostgresNonceRegistry) Close() error {
	registry.DB.Close()
	return nil
}

type postgresReservation struct {
	tx      pgx.Tx
	settled bool
	// aborted is set when Commit failed; the transaction is already over and its insert is gone.
	aborted bool
}

func (reservation *postgresReservation) Commit(ctx context.Context) error {
	if reservation.settled || reservation.aborted {
		return errReservationSettled
	}
	if err := reservation.tx.Commit(ctx); err != nil {
		reservation.aborted = true
		return err
	}
	reservation.settled = true
	return nil
}

func (reservation *postgresReservation) Rollback(ctx context.Context) error {
	if reservation.settled {
		return errReservationSettled
	}
	reservation.settled = true
	if reservation.aborted {
		return nil
	}
	return reservation.tx.Rollback(ctx)
}
