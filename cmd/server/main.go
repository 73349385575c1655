// Package main is the entrypoint for the hemalyze API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hemalyze/hemalyze/internal/analysis"
	"github.com/hemalyze/hemalyze/internal/api"
	"github.com/hemalyze/hemalyze/internal/api/handler"
	mw "github.com/hemalyze/hemalyze/internal/api/middleware"
	"github.com/hemalyze/hemalyze/internal/cache"
	"github.com/hemalyze/hemalyze/internal/config"
	"github.com/hemalyze/hemalyze/internal/engine/factory"
	"github.com/hemalyze/hemalyze/internal/queue"
	"github.com/hemalyze/hemalyze/internal/report"
	"github.com/hemalyze/hemalyze/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "engine_provider", cfg.Engine.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache and task queue
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	taskQueue, err := queue.NewRedisQueue(cfg.Redis.URL, "hemalyze:tasks")
	if err != nil {
		return fmt.Errorf("create task queue: %w", err)
	}
	defer taskQueue.Close()

	// 5. Upload store and analysis engine
	files, err := report.NewStore(cfg.Uploads.Dir)
	if err != nil {
		return fmt.Errorf("create upload store: %w", err)
	}

	eng, err := factory.NewEngine(cfg.Engine)
	if err != nil {
		return fmt.Errorf("create analysis engine: %w", err)
	}
	slog.Info("analysis engine initialized", "provider", eng.Name())

	// 6. Create store and service
	pgStore := store.NewPostgresStore(pool)
	svc := analysis.NewService(pgStore, taskQueue, redisCache, files, eng, cfg.Analysis, cfg.Uploads.MaxFileSize)

	// 7. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, cfg.Analysis.RateLimitPerMin)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:      handler.NewHealthHandler(pgStore, redisCache, taskQueue),
		AnalyzeHandler:     handler.NewAnalyzeHandler(svc, cfg.Uploads.MaxFileSize),
		AnalyzeSyncHandler: handler.NewAnalyzeSyncHandler(svc, cfg.Uploads.MaxFileSize),
		StatusHandler:      handler.NewStatusHandler(svc),
		ResultsHandler:     handler.NewResultsHandler(svc),
		ListHandler:        handler.NewListHandler(svc),
		DeleteHandler:      handler.NewDeleteHandler(svc),
		CreateKeyHandler:   handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:    handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler:   handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
