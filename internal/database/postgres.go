// Package database opens the pgx pool the CLI runs jobs on.
package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/theSteveMitchell/postgres-upsert/internal/config"
	"github.com/theSteveMitchell/postgres-upsert/pkg/upsert"
)

// Pool hands out connections for upsert writers.
type Pool struct {
	pool *pgxpool.Pool
}

// Open connects and pings, returning a Close function for cleanup.
func Open(ctx context.Context, cfg config.Database) (*Pool, func(), error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Pool{pool: pool}, pool.Close, nil
}

func poolConfig(cfg config.Database) (*pgxpool.Config, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres: DSN must not be empty")
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.ConnectTimeout > 0 {
		pc.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	return pc, nil
}

// Acquire pins one pooled connection for a Writer. The staging table lives
// on that session, so it must not be released until the Write returns.
func (p *Pool) Acquire(ctx context.Context) (upsert.Conn, func(), error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire connection: %w", err)
	}
	return upsert.NewConn(c.Conn()), c.Release, nil
}

// Stat summarises the pool for debug logging.
func (p *Pool) Stat() (total, idle int32) {
	s := p.pool.Stat()
	return s.TotalConns(), s.IdleConns()
}
