package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"wastedraft/internal/config"
	"wastedraft/internal/database"
	"wastedraft/internal/logging"
	"wastedraft/internal/migrations"
)

const usage = "usage: migrate [up|down|status]"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	command := "up"
	if len(args) > 0 {
		command = args[0]
	}
	var step func(context.Context, *sql.DB) error
	switch command {
	case "up":
		step = migrations.Apply
	case "down":
		step = migrations.Rollback
	case "status":
		step = migrations.Status
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg, logger.Named("db"))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := step(ctx, db); err != nil {
		return err
	}
	logger.Info("migrate finished", zap.String("command", command), zap.String("database", cfg.DBName))
	return nil
}
