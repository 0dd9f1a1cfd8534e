package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"filedrop/internal/cache"
	"filedrop/internal/server/api"
	"filedrop/internal/server/config"
	"filedrop/internal/server/database"
	"filedrop/internal/server/metrics"
	"filedrop/internal/server/service"
	"filedrop/internal/server/storage"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 30 * time.Second
	listCacheKey    = "filedrop:files"
)

func main() {
	root := &cobra.Command{
		Use:           "filedrop-server",
		Short:         "Password-protected file drop server",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "init-password",
		Short: "Store a bcrypt hash of UPLOAD_PASSWORD in the settings table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return initPassword(cmd.Context())
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("exiting", "error", err)
		stop()
		os.Exit(1)
	}
}

// setup loads configuration and installs the JSON logger.
func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)
	return cfg, nil
}

func serve(ctx context.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_backend", cfg.StorageBackend,
		"storage_path", cfg.StoragePath,
		"max_file_size", cfg.MaxFileSize,
		"list_cache", cfg.RedisURL != "",
	)
	if cfg.UploadPassword == "" {
		slog.Warn("UPLOAD_PASSWORD is not set, uploads will fail")
	}

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		return err
	}
	slog.Info("database migrations complete")

	repo := database.NewRepository(db.Pool)
	if cfg.UploadPassword != "" {
		if err := service.CheckStoredPassword(ctx, repo, cfg.UploadPassword); err != nil {
			slog.Warn("stored password check failed", "error", err)
		}
	}

	// Initialize storage
	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	if err := store.EnsureReady(ctx); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	slog.Info("blob storage initialized", "backend", cfg.StorageBackend)

	var listCache cache.Cache[[]service.FileInfo]
	if cfg.RedisURL != "" {
		client, err := cache.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		listCache = cache.NewRedis[[]service.FileInfo](client, listCacheKey, cfg.ListCacheTTL)
		slog.Info("listing cache enabled", "ttl", cfg.ListCacheTTL)
	}

	m := metrics.New()
	svc := service.NewFileService(repo, store, listCache, m, cfg)

	e := api.SetupRouter(api.NewHandler(svc, db), cfg, m)

	g, gctx := errgroup.WithContext(ctx)

	sweeper := storage.NewOrphanSweeper(repo, store, cfg.SweepInterval, cfg.OrphanGracePeriod)
	sweeper.Start(gctx)
	defer sweeper.Wait()

	g.Go(func() error {
		addr := ":" + cfg.Port
		slog.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server exited cleanly")
	return nil
}

func initPassword(ctx context.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		return err
	}

	if err := service.InitPassword(ctx, database.NewRepository(db.Pool), cfg.UploadPassword); err != nil {
		return err
	}
	slog.Info("upload password hash stored")
	return nil
}

func newStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case config.BackendS3:
		return storage.NewObjectStore(storage.ObjectStoreConfig{
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			UseSSL:          cfg.S3UseSSL,
		})
	default:
		return storage.NewFileSystemStore(cfg.StoragePath), nil
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
