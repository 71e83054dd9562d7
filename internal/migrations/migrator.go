package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	dbmigrations "wastedraft/db/migrations"
)

// Swapped out in tests.
var (
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.UpContext(ctx, db, dir, opts...)
	}
	gooseDownContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.DownContext(ctx, db, dir, opts...)
	}
	gooseStatusContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.StatusContext(ctx, db, dir, opts...)
	}
)

// Apply runs every embedded migration that has not been applied yet.
func Apply(ctx context.Context, db *sql.DB) error {
	return run(ctx, db, "apply", gooseUpContext)
}

// Rollback reverts the most recent migration.
func Rollback(ctx context.Context, db *sql.DB) error {
	return run(ctx, db, "roll back", gooseDownContext)
}

// Status logs the applied state of every embedded migration.
func Status(ctx context.Context, db *sql.DB) error {
	return run(ctx, db, "read status of", gooseStatusContext)
}

func run(ctx context.Context, db *sql.DB, verb string, fn func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error) error {
	if db == nil {
		return fmt.Errorf("nil database connection")
	}

	goose.SetBaseFS(dbmigrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := fn(ctx, db, "."); err != nil {
		return fmt.Errorf("%s migrations: %w", verb, err)
	}
	return nil
}
