package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/InfinitoSolutions/ibl-pay-api/storage"
)

// PostgresBackend implements storage.DatabaseStorage on a pgx pool.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

var _ storage.DatabaseStorage = (*PostgresBackend)(nil)

// NewPostgresBackend connects to dsn. An already-built pool can be passed
// instead, in which case dsn is ignored.
func NewPostgresBackend(dsn string, pool *pgxpool.Pool) (*PostgresBackend, error) {
	if pool == nil {
		var err error
		pool, err = pgxpool.New(context.Background(), dsn)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresBackend) Pool() *pgxpool.Pool {
	return p.pool
}
