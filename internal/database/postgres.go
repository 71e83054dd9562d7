// Package database opens the PostgreSQL pool used by the repositories.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"wastedraft/internal/config"
)

const maxBackoff = 5 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options tunes the pool and the startup wait.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// Attempts is how many pings are tried before giving up; the database
	// container often starts after the server.
	Attempts int
	Backoff  time.Duration
	Logger   *zap.Logger
}

// OptionsFromConfig reads the pool settings from cfg.
func OptionsFromConfig(cfg *config.Config, logger *zap.Logger) Options {
	return Options{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		Attempts:        cfg.DBConnectAttempts,
		Backoff:         500 * time.Millisecond,
		Logger:          logger,
	}
}

// Connect opens the pool described by cfg and waits until it answers.
func Connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*sql.DB, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	return Open(ctx, cfg.PostgresDSN(), OptionsFromConfig(cfg, logger))
}

// Open opens a pgx-backed pool for dsn.
func Open(ctx context.Context, dsn string, opts Options) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := waitReady(ctx, db, opts); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Check pings p with a short deadline. Used by the health endpoint.
func Check(ctx context.Context, p Pinger) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.PingContext(ctx)
}

func waitReady(ctx context.Context, p Pinger, opts Options) error {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := opts.Backoff

	var err error
	for i := 1; i <= attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = p.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		log.Warn("postgres not ready", zap.Int("attempt", i), zap.Duration("retry_in", backoff), zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("ping postgres: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return fmt.Errorf("ping postgres after %d attempt(s): %w", attempts, err)
}
