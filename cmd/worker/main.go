package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/orderlane/webhook-engine/internal/config"
	"github.com/orderlane/webhook-engine/internal/database"
	"github.com/orderlane/webhook-engine/internal/dispatch"
	"github.com/orderlane/webhook-engine/internal/metrics"
	"github.com/orderlane/webhook-engine/internal/retry"
	"github.com/orderlane/webhook-engine/internal/store"
	"github.com/orderlane/webhook-engine/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	metrics.RegisterDefault()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to postgres")

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("failed to parse redis URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	slog.Info("connected to redis")

	s := store.New(pool)
	policy := retry.Policy{Base: cfg.RetryBaseDelay, Max: cfg.RetryMaxDelay}
	dp := dispatch.New(s, policy)
	queue := worker.NewRedisQueue(rdb)

	w := worker.New(s, dp, queue, cfg.WorkerConcurrency, cfg.PollInterval, cfg.DispatchBatch)
	if err := w.Start(ctx); err != nil {
		slog.Error("failed to start dispatch workers", "error", err)
		os.Exit(1)
	}
	worker.NewScheduler(s, dp, cfg.PollInterval, cfg.DispatchBatch).Start(ctx)
	slog.Info("dispatch workers started", "concurrency", cfg.WorkerConcurrency, "poll_interval", cfg.PollInterval)

	// Health and metrics endpoint for probes and scraping
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	healthSrv := &http.Server{
		Addr:    ":8081",
		Handler: mux,
	}

	go func() {
		slog.Info("worker health server listening", "port", "8081")
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server error", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("health server shutdown error", "error", err)
	}
	slog.Info("worker stopped")
}
