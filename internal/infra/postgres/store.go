package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
)

// Store implements app.SessionStore and app.StatsStore on top of Postgres.
// Every counter update is a single statement (or one transaction for the
// answer path), so concurrent sessions never lose increments.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pgx pool for the given DSN.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	return pgxpool.ConnectConfig(ctx, cfg)
}
