package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hurou927/xmlshred/internal/config"
)

// NewPool creates a new pgx connection pool from config.
func NewPool(ctx context.Context, cfg *config.Repository) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// EnsureDatabase creates the repository database when the server does not
// have it yet. It reports whether the database was created.
func EnsureDatabase(ctx context.Context, cfg *config.Repository) (bool, error) {
	conn, err := pgx.Connect(ctx, cfg.MaintenanceDSN())
	if err != nil {
		return false, fmt.Errorf("connecting to server: %w", err)
	}
	defer conn.Close(ctx)

	var exists bool
	if err := conn.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", cfg.Database,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("looking up database: %w", err)
	}
	if exists {
		return false, nil
	}

	// CREATE DATABASE takes no parameters
	if _, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{cfg.Database}.Sanitize()); err != nil {
		return false, fmt.Errorf("creating database %s: %w", cfg.Database, err)
	}
	return true, nil
}
