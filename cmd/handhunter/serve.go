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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/handhunter/internal/analyzer"
	"github.com/kiranshivaraju/handhunter/internal/api"
	"github.com/kiranshivaraju/handhunter/internal/api/handler"
	mw "github.com/kiranshivaraju/handhunter/internal/api/middleware"
	"github.com/kiranshivaraju/handhunter/internal/audit"
	"github.com/kiranshivaraju/handhunter/internal/cache"
	"github.com/kiranshivaraju/handhunter/internal/config"
	"github.com/kiranshivaraju/handhunter/internal/consistency"
	"github.com/kiranshivaraju/handhunter/internal/jobs"
	"github.com/kiranshivaraju/handhunter/internal/metrics"
	"github.com/kiranshivaraju/handhunter/internal/store"
	"github.com/kiranshivaraju/handhunter/internal/worker"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, job workers and the consistency audit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "analyzer", cfg.Analyzer.BackendURL)

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	pgStore := store.NewPostgresStore(pool)

	validator, err := consistency.New()
	if err != nil {
		return fmt.Errorf("load consistency rules: %w", err)
	}

	client := analyzer.NewHTTPClient(cfg.Analyzer.BackendURL,
		analyzer.NewRetrier(cfg.Analyzer.MaxAttempts, cfg.Analyzer.AttemptTimeout, cfg.Analyzer.RetryBaseDelay),
		analyzer.WithMetrics(m))

	// Workers outlive the signal context so queued jobs can drain on shutdown.
	workers := worker.NewPool(context.WithoutCancel(ctx), cfg.Jobs.Workers, cfg.Jobs.QueueSize, worker.WithMetrics(m))

	svc, err := jobs.NewService(pgStore, client, workers, jobs.SettingsFrom(cfg),
		jobs.WithCache(redisCache), jobs.WithMetrics(m), jobs.WithValidator(validator))
	if err != nil {
		return fmt.Errorf("create job service: %w", err)
	}

	if _, err := svc.RecoverInterrupted(ctx); err != nil {
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}

	auditor := audit.New(pgStore, redisCache, validator, cfg.Audit.Window, audit.WithMetrics(m))
	if err := auditor.Start(ctx, cfg.Audit.Schedule); err != nil {
		return fmt.Errorf("start audit: %w", err)
	}

	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RequestsPerMinute),
		Metrics:   m,

		HealthHandler:  handler.NewHealthHandler(pgStore, redisCache),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),

		SubmitJobHandler:     handler.NewSubmitJobHandler(svc),
		JobStatusHandler:     handler.NewJobStatusHandler(svc),
		JobReportHandler:     handler.NewJobReportHandler(svc),
		ValidateHandsHandler: handler.NewValidateHandsHandler(validator),
		LatestAuditHandler:   handler.NewLatestAuditHandler(redisCache),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	})

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
		slog.Info("server listening", "addr", addr, "workers", cfg.Jobs.Workers)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	auditor.Stop(shutdownCtx)
	if err := workers.Shutdown(shutdownCtx); err != nil {
		slog.Warn("jobs still running at shutdown", "error", err)
	}

	if serveErr != nil {
		return serveErr
	}
	slog.Info("server stopped gracefully")
	return nil
}
