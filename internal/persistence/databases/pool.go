// Package databases owns the Postgres-backed durable stores for cortex's
// memory lattice: episodes (C6), semantic concepts (C7), user traits (C8),
// identity vectors (C9), cycles, and threads. Ephemeral/TTL'd state (working
// memory, gists, facts, queues, the event bus, proactive candidates) lives in
// Redis instead, under internal/workingmemory, internal/gist, internal/fact,
// and internal/queue.
package databases

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"cortex/internal/config"
)

// OpenPool creates a Postgres connection pool sized from PostgresConfig.
func OpenPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	return newPgPool(ctx, cfg)
}

func newPgPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 8
	}
	pcfg.MaxConns = maxConns
	pcfg.MinConns = cfg.MinConns
	pcfg.MaxConnLifetime = time.Hour
	pcfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	connTimeout := cfg.ConnTimeout
	if connTimeout <= 0 {
		connTimeout = 3 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, connTimeout)
	defer cancel()
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}
