// Package main is the entrypoint for the hemalyze background worker.
// It runs the pool draining the task queue and the reaper that recovers
// stuck work and prunes expired records.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/hemalyze/hemalyze/internal/analysis"
	"github.com/hemalyze/hemalyze/internal/cache"
	"github.com/hemalyze/hemalyze/internal/config"
	"github.com/hemalyze/hemalyze/internal/engine/factory"
	"github.com/hemalyze/hemalyze/internal/queue"
	"github.com/hemalyze/hemalyze/internal/report"
	"github.com/hemalyze/hemalyze/internal/store"
	"github.com/hemalyze/hemalyze/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"engine_provider", cfg.Engine.Provider, "workers", cfg.Analysis.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// The server applies migrations on boot; running them here too keeps
	// a worker-only deployment self-sufficient.
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

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

	files, err := report.NewStore(cfg.Uploads.Dir)
	if err != nil {
		return fmt.Errorf("create upload store: %w", err)
	}

	eng, err := factory.NewEngine(cfg.Engine)
	if err != nil {
		return fmt.Errorf("create analysis engine: %w", err)
	}
	slog.Info("analysis engine initialized", "provider", eng.Name())

	pgStore := store.NewPostgresStore(pool)
	svc := analysis.NewService(pgStore, taskQueue, redisCache, files, eng, cfg.Analysis, cfg.Uploads.MaxFileSize)

	workerPool := worker.NewPool(taskQueue, svc, cfg.Analysis.Workers)
	reaper := worker.NewReaper(taskQueue, pgStore, files, cfg.Analysis)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		workerPool.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		reaper.Run(ctx)
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining workers...")
	wg.Wait()

	slog.Info("worker stopped gracefully")
	return nil
}
