// Package postgres is the relational source of truth: users and their
// profiles, questions, exams and claim grants, on pgx/v5.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of *pgxpool.Pool the repositories use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ DB = (*pgxpool.Pool)(nil)

type PoolConfig struct {
	DSN            string
	MaxConns       int32         // 0 => 10
	MinConns       int32         // 0 => 1
	ConnectRetries int           // 0 => 10
	RetryDelay     time.Duration // 0 => 1s
	PingTimeout    time.Duration // 0 => 2s
}

var (
	newPool = pgxpool.NewWithConfig
	sleep   = time.Sleep
)

// NewPool connects and pings, retrying while the database comes up.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pc.MaxConns = 10
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = 1
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	pc.MaxConnIdleTime = 5 * time.Minute

	retries := cfg.ConnectRetries
	if retries <= 0 {
		retries = 10
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}

	var lastErr error
	for i := 0; i < retries; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pool, err := newPool(ctx, pc)
		if err != nil {
			lastErr = err
			sleep(delay)
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = pool.Ping(pctx)
		cancel()
		if err == nil {
			return pool, nil
		}
		lastErr = err
		pool.Close()
		sleep(delay)
	}
	return nil, fmt.Errorf("postgres: ping retries exhausted: %w", lastErr)
}
