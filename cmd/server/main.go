// Package main is the entrypoint for the orgagent API server.
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

	"github.com/google/uuid"
	"github.com/mw10013/orgagent/internal/agent"
	"github.com/mw10013/orgagent/internal/api"
	"github.com/mw10013/orgagent/internal/api/handler"
	mw "github.com/mw10013/orgagent/internal/api/middleware"
	"github.com/mw10013/orgagent/internal/api/response"
	"github.com/mw10013/orgagent/internal/cache"
	"github.com/mw10013/orgagent/internal/classify"
	"github.com/mw10013/orgagent/internal/config"
	"github.com/mw10013/orgagent/internal/intake"
	"github.com/mw10013/orgagent/internal/queue"
	"github.com/mw10013/orgagent/internal/storage"
	"github.com/mw10013/orgagent/internal/store"
	"github.com/mw10013/orgagent/internal/workflow"
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
	slog.Info("config loaded", "classifier", cfg.Classifier.Provider, "env", cfg.Server.Env)

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

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Connect object storage
	objStore, err := storage.NewS3Store(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("connect object storage: %w", err)
	}
	slog.Info("object storage connected", "bucket", cfg.Storage.Bucket)

	// 6. Create classifier
	classifier, err := classify.NewProvider(cfg.Classifier)
	if err != nil {
		return fmt.Errorf("create classifier: %w", err)
	}
	slog.Info("classifier initialized", "provider", classifier.Name())

	// 7. Create store, workflow engine, and agent registry
	pgStore := store.NewPostgresStore(pool)

	engine := workflow.NewEngine(pgStore, redisCache, cfg.Approval.Timeout)
	registry := agent.NewRegistry(pgStore, engine)
	defer registry.Close()

	if err := engine.Start(ctx, registry); err != nil {
		return fmt.Errorf("start workflow engine: %w", err)
	}
	defer engine.Stop()
	slog.Info("workflow engine started", "approval_timeout", cfg.Approval.Timeout)

	// 8. Start the notification consumer
	stream, err := queue.NewStream(cfg.Redis.URL, cfg.Queue)
	if err != nil {
		return fmt.Errorf("create notification stream: %w", err)
	}
	defer stream.Close()

	consumer := queue.NewConsumer(objStore, func(tenantID uuid.UUID) queue.TenantAgent {
		return registry.Agent(tenantID)
	}, classifier)

	go func() {
		if err := stream.Run(ctx, consumer); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("notification consumer stopped", "error", err)
		}
	}()
	slog.Info("notification consumer started", "stream", cfg.Queue.Stream, "group", cfg.Queue.Group)

	// 9. Build router with dependencies
	intakeSvc := intake.NewService(objStore, stream, cfg.Server.Env)

	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache),

		UploadHandler:         handler.NewUploadHandler(intakeSvc),
		ListUploadsHandler:    handler.NewListUploadsHandler(registry),
		DownloadUploadHandler: handler.NewDownloadUploadHandler(intakeSvc),
		DeleteUploadHandler:   handler.NewDeleteUploadHandler(intakeSvc),

		CreateApprovalHandler: handler.NewCreateApprovalHandler(registry),
		ListApprovalsHandler:  handler.NewListApprovalsHandler(registry),
		GetApprovalHandler:    handler.NewGetApprovalHandler(registry),
		ApprovalStatusHandler: handler.NewApprovalStatusHandler(registry, redisCache),
		ApproveHandler:        handler.NewApproveHandler(registry),
		RejectHandler:         handler.NewRejectHandler(registry),

		EventsHandler: handler.NewEventsHandler(registry),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 10. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // event streams hold connections open
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

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
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
