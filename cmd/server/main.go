package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RustyBraze/Stickerwall/internal/adapter/httpserver"
	"github.com/RustyBraze/Stickerwall/internal/adapter/metrics"
	"github.com/RustyBraze/Stickerwall/internal/adapter/sqlite"
	"github.com/RustyBraze/Stickerwall/internal/adapter/storage"
	"github.com/RustyBraze/Stickerwall/internal/auth"
	"github.com/RustyBraze/Stickerwall/internal/broadcast"
	"github.com/RustyBraze/Stickerwall/internal/catalog"
	"github.com/RustyBraze/Stickerwall/internal/domain"
	"github.com/RustyBraze/Stickerwall/internal/ingest"
	"github.com/RustyBraze/Stickerwall/internal/platform/config"
	"github.com/RustyBraze/Stickerwall/internal/platform/logging"
	"github.com/RustyBraze/Stickerwall/internal/platform/version"
	"github.com/RustyBraze/Stickerwall/internal/policy"
	"github.com/jonboulle/clockwork"
)

type payloadStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Open(ctx context.Context, key string) (*storage.Object, error)
	Check(ctx context.Context) error
}

func runGracefulShutdown(srv *httpserver.Server, hub *broadcast.Hub, authSvc *auth.Service) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Shutdown does not wait for hijacked connections.
		hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		authSvc.StopPurge(shutdownCtx)

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *sql.DB {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		slog.Error("Failed to open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}

	if err := sqlite.RunMigrations(ctx, db); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return db
}

func setupStorage(cfg *config.Config) payloadStore {
	if cfg.StorageBackend == "s3" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		store, err := storage.NewMinioStore(ctx, storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			slog.Error("Failed to connect to object storage", "endpoint", cfg.S3Endpoint, "error", err)
			os.Exit(1)
		}
		return store
	}

	store, err := storage.NewLocalStore(cfg.StorageDir)
	if err != nil {
		slog.Error("Failed to prepare storage directory", "dir", cfg.StorageDir, "error", err)
		os.Exit(1)
	}
	return store
}

func setupAuth(cfg *config.Config, db *sql.DB, clock clockwork.Clock) *auth.Service {
	authSvc := auth.NewService(sqlite.NewAuthRepo(db), auth.Config{
		SessionTTL: cfg.SessionTTL,
		APIKeyTTL:  cfg.APIKeyTTL,
	}, clock)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := authSvc.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		slog.Error("Failed to provision admin account", "error", err)
		os.Exit(1)
	}
	if err := authSvc.StartPurge(); err != nil {
		slog.Error("Failed to schedule token purge", "error", err)
		os.Exit(1)
	}
	return authSvc
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logCloser := logging.InitLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	defer func() { _ = logCloser.Close() }()
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	db := setupDB(cfg)
	defer func() { _ = db.Close() }()

	store := setupStorage(cfg)

	repo := sqlite.NewStickerRepo(db, clock)
	catalogSvc := catalog.NewService(repo, store)
	policies := policy.NewStore(repo, policy.Config{
		Default:      domain.NewRateLimitPolicy(cfg.RateLimitMax, cfg.RateLimitWindow),
		CountBlocked: cfg.RateLimitCountBlocked,
	}, clock)

	authSvc := setupAuth(cfg, db, clock)

	metricSet := metrics.New()

	hub := broadcast.NewHub(broadcast.NewRegistry(), catalogSvc, cfg.ReplayLimit, metricSet.WebSocket)

	pipeline := ingest.NewPipeline(policies, catalogSvc, hub, metricSet.Ingest, clock, ingest.Config{
		WarnOnRateLimit: cfg.RateLimitMode == "warn",
		RecordBlocked:   cfg.RateLimitRecordBlocked,
		AuditBanned:     cfg.AuditBannedAttempts,
		PersistTimeout:  cfg.PersistTimeout,
	})

	limits := httpserver.NewConnectionLimits(
		int64(cfg.MaxWebSocketConnections),
		cfg.MaxConnectionsPerIP,
		cfg.ConnectionRatePerIP,
		cfg.ConnectionBurstPerIP,
		clock,
	)

	srv := httpserver.NewServer(cfg, httpserver.Deps{
		Catalog:     catalogSvc,
		Auth:        authSvc,
		Hub:         hub,
		Pipeline:    pipeline,
		Payloads:    store,
		Limits:      limits,
		Registry:    metricSet.Registry,
		HTTPMetrics: metricSet.HTTP,
		WSMetrics:   metricSet.WebSocket,
		HealthChecks: []httpserver.HealthCheck{
			{Name: "database", Check: sqlite.HealthCheck(db)},
			{Name: "storage", Check: store.Check},
		},
		Clock: clock,
	})

	done := runGracefulShutdown(srv, hub, authSvc)

	slog.Info("Server starting", "port", cfg.Port, "storage", cfg.StorageBackend, "rate_limit_mode", cfg.RateLimitMode)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
