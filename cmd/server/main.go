package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"wastedraft/internal/api"
	"wastedraft/internal/config"
	"wastedraft/internal/database"
	"wastedraft/internal/logging"
	"wastedraft/internal/migrations"
	"wastedraft/internal/repository/postgres"
	"wastedraft/internal/service"
	"wastedraft/internal/storage"
	"wastedraft/internal/storage/local"
	"wastedraft/internal/storage/s3"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	logger.Info("configuration loaded", zap.String("auth_mode", string(cfg.AuthMode)), zap.String("storage", cfg.StorageDriver))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg, logger.Named("db"))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := migrations.Apply(ctx, db); err != nil {
		return err
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}

	draftRepo := postgres.NewDraftRepository(db)
	attachments := service.NewAttachmentService(
		draftRepo,
		postgres.NewAttachmentRepository(db),
		store,
		service.AttachmentOptions{
			MaxPerCategory: cfg.MaxAttachmentsPerCategory,
			MaxSizeBytes:   cfg.MaxUploadSizeBytes,
			PublicBaseURL:  cfg.PublicBaseURL,
			PresignTTL:     cfg.S3PresignTTL,
			Logger:         logger.Named("attachments"),
		},
	)
	drafts := service.NewDraftService(draftRepo, attachments, logger.Named("drafts"))

	authn, stopAuth, err := api.NewAuthenticator(cfg, logger.Named("auth"))
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	defer stopAuth()

	health := func(ctx context.Context) error { return database.Check(ctx, db) }
	router := api.NewRouter(cfg, authn, health,
		api.NewDraftHandler(drafts, logger.Named("http")),
		api.NewAttachmentHandler(attachments, cfg.MaxUploadSizeBytes, cfg.MaxAttachmentsPerCategory, logger.Named("http")),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		Handler:           router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageDriver {
	case "", "local":
		return local.New(cfg.StorageDir, cfg.PublicBaseURL), nil
	case "s3", "minio":
		st, err := s3.New(ctx, s3.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3 storage: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
}
