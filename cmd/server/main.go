// Package main is the entrypoint for the PriceSmith API server.
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

	"github.com/pricesmith/pricesmith/internal/api"
	"github.com/pricesmith/pricesmith/internal/api/handler"
	mw "github.com/pricesmith/pricesmith/internal/api/middleware"
	"github.com/pricesmith/pricesmith/internal/api/response"
	"github.com/pricesmith/pricesmith/internal/cache"
	"github.com/pricesmith/pricesmith/internal/compare"
	"github.com/pricesmith/pricesmith/internal/config"
	"github.com/pricesmith/pricesmith/internal/normalize"
	"github.com/pricesmith/pricesmith/internal/pricing"
	"github.com/pricesmith/pricesmith/internal/provider"
	"github.com/pricesmith/pricesmith/internal/provider/httpjson"
	"github.com/pricesmith/pricesmith/internal/provider/mock"
	"github.com/pricesmith/pricesmith/internal/queue"
	"github.com/pricesmith/pricesmith/internal/resolve"
	"github.com/pricesmith/pricesmith/internal/store"
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
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "workers", cfg.Sync.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database and run migrations
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 3. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 4. Build the adapter registry
	registry, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("build provider registry: %w", err)
	}
	slog.Info("providers registered", "providers", registry.Names())

	// 5. Core pipeline: store, queue, workers, comparator, engine
	pgStore := store.NewPostgresStore(pool)

	jobQueue := queue.New(queue.NewMemoryJobStore(), cfg.Sync.MaxConcurrency)
	normalizer := normalize.New()
	resolver := resolve.New(resolve.DefaultRules())

	pool_ := queue.NewWorkerPool(jobQueue, registry, normalizer, resolver, pgStore,
		cfg.Sync.Workers, cfg.Sync.PollInterval)
	pool_.Start(ctx)
	go jobQueue.StartSweeper(ctx, cfg.Sync.SweepInterval, cfg.Sync.Retention)

	comparator := compare.New(registry, redisCache, pgStore, compare.Config{
		CacheTTL:      cfg.Compare.CacheTTL,
		HistoryLength: cfg.Compare.HistoryLength,
		BatchSize:     cfg.Compare.BatchSize,
		BatchPause:    cfg.Compare.BatchPause,
	})

	engine := pricing.NewEngine(comparator, pgStore, pricing.Config{
		Interval:           cfg.Pricing.Interval,
		CompetitorWeight:   cfg.Pricing.CompetitorWeight,
		DemandWeighting:    cfg.Pricing.DemandWeighting,
		InventoryWeighting: cfg.Pricing.InventoryWeighting,
		MinChangePercent:   cfg.Pricing.MinChangePercent,
		MaxIncreasePercent: cfg.Pricing.MaxIncreasePercent,
		MaxDecreasePercent: cfg.Pricing.MaxDecreasePercent,
		BatchSize:          cfg.Compare.BatchSize,
		BatchPause:         cfg.Compare.BatchPause,
	})

	// 6. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, 60),

		HealthHandler: healthHandler(pgStore, redisCache),

		TriggerSyncHandler: handler.NewTriggerSyncHandler(jobQueue, registry, cfg.Sync.MaxRetries),
		GetJobHandler:      handler.NewGetJobHandler(jobQueue),
		CancelJobHandler:   handler.NewCancelJobHandler(jobQueue),
		QueueStatusHandler: handler.NewQueueStatusHandler(jobQueue),

		ComparisonHandler:   handler.NewComparisonHandler(comparator),
		AnalysisHandler:     handler.NewAnalysisHandler(comparator),
		BatchCompareHandler: handler.NewBatchCompareHandler(comparator),
		UpdatePriceHandler:  handler.NewUpdatePriceHandler(engine),

		EngineStartHandler:  handler.NewEngineStartHandler(ctx, engine),
		EngineStopHandler:   handler.NewEngineStopHandler(engine),
		EngineStatusHandler: handler.NewEngineStatusHandler(engine),

		ListAlertsHandler:   handler.NewListAlertsHandler(pgStore),
		ResolveAlertHandler: handler.NewResolveAlertHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if engine.Running() {
		if err := engine.Stop(); err != nil && !errors.Is(err, pricing.ErrNotRunning) {
			slog.Warn("stopping pricing engine", "error", err)
		}
	}
	pool_.Wait()

	slog.Info("server stopped gracefully")
	return nil
}

// buildRegistry creates HTTP adapters for every configured endpoint. With
// no endpoints configured, development gets offline mock marketplaces so
// the pipeline stays runnable.
func buildRegistry(cfg *config.Config) (*provider.Registry, error) {
	if len(cfg.Provider.Endpoints) == 0 {
		if cfg.Server.Env != "development" {
			return nil, fmt.Errorf("PROVIDER_ENDPOINTS is required outside development")
		}
		var adapters []provider.Adapter
		for _, name := range resolve.DefaultProviderOrder {
			adapters = append(adapters, mock.New(name))
		}
		return provider.NewRegistry(adapters...), nil
	}

	var adapters []provider.Adapter
	for name, baseURL := range cfg.Provider.Endpoints {
		a, err := httpjson.New(httpjson.Options{
			Name:              name,
			BaseURL:           baseURL,
			RequestsPerMinute: cfg.Provider.RequestsPerMinute,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return provider.NewRegistry(adapters...), nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
