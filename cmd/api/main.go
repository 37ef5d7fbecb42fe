package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/orderlane/webhook-engine/internal/config"
	"github.com/orderlane/webhook-engine/internal/database"
	"github.com/orderlane/webhook-engine/internal/dispatch"
	"github.com/orderlane/webhook-engine/internal/handler"
	"github.com/orderlane/webhook-engine/internal/metrics"
	"github.com/orderlane/webhook-engine/internal/registry"
	"github.com/orderlane/webhook-engine/internal/retry"
	"github.com/orderlane/webhook-engine/internal/store"
	"github.com/orderlane/webhook-engine/internal/worker"
)

func main() {
	withWorker := flag.Bool("worker", false, "also run dispatch workers and the retry scheduler in-process")
	flag.Parse()

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
	reg := registry.New(s.Subscriptions)

	r := gin.Default()
	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	handler.Register(r, s, reg)

	// Optionally run the full dispatch side in-process for local development
	if *withWorker {
		policy := retry.Policy{Base: cfg.RetryBaseDelay, Max: cfg.RetryMaxDelay}
		dp := dispatch.New(s, policy)
		queue := worker.NewRedisQueue(rdb)

		w := worker.New(s, dp, queue, cfg.WorkerConcurrency, cfg.PollInterval, cfg.DispatchBatch)
		if err := w.Start(ctx); err != nil {
			slog.Error("failed to start dispatch workers", "error", err)
			os.Exit(1)
		}
		worker.NewScheduler(s, dp, cfg.PollInterval, cfg.DispatchBatch).Start(ctx)
		slog.Info("dispatch workers started", "concurrency", cfg.WorkerConcurrency)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		slog.Info("api server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("api server stopped")
}
