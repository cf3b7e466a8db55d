package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolOptions tunes the Postgres pool and the startup connection attempts.
type PoolOptions struct {
	MaxConns     int32
	ConnAttempts int
	RetryDelay   time.Duration
}

// NewPostgresPool connects to PostgreSQL, retrying while the database comes up.
func NewPostgresPool(ctx context.Context, url string, opts PoolOptions, logger *zap.Logger) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.ConnAttempts <= 0 {
		opts.ConnAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= opts.ConnAttempts; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err
		if attempt == opts.ConnAttempts {
			break
		}
		logger.Warn("postgres not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", opts.ConnAttempts),
			zap.Duration("retry_in", opts.RetryDelay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect postgres: %w", ctx.Err())
		case <-time.After(opts.RetryDelay):
		}
	}
	return nil, fmt.Errorf("connect postgres: %w", lastErr)
}
