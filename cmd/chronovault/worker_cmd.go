package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/chronovault/pkg/observability"
	"github.com/Mindburn-Labs/chronovault/pkg/projection"
	"github.com/Mindburn-Labs/chronovault/pkg/projector"
	"github.com/Mindburn-Labs/chronovault/pkg/queue"
	"github.com/Mindburn-Labs/chronovault/pkg/store"
)

// runWorkerCmd runs a standalone projection worker against the Redis
// queue. The API server already embeds a pool; this exists to scale
// projection out horizontally.
func runWorkerCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("worker", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var workers int
	cmd.IntVar(&workers, "workers", 0, "Worker count (overrides WORKERS)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	if cfg.RedisAddr == "" {
		fmt.Fprintln(stderr, "Error: REDIS_ADDR is required for a standalone worker")
		return 2
	}
	logger := newLogger(cfg.LogLevel, stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, dialect, err := openDB(ctx, cfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		return 1
	}
	defer db.Close()

	events := store.NewSQLStore(db, dialect, cfg.HashSecret)
	capsules := projection.NewSQLStore(db, dialect)
	if err := capsules.Init(ctx); err != nil {
		logger.Error("schema init failed", "error", err)
		return 1
	}

	redisClient, err := openRedis(ctx, cfg)
	if err != nil {
		logger.Error("redis unavailable", "error", err)
		return 1
	}
	defer redisClient.Close()
	q := queue.NewRedisQueue(redisClient, cfg.QueuePrefix)

	metrics, err := observability.New(ctx, &observability.Config{
		ServiceName:    "chronovault-worker",
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.EnvironmentName,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.MetricsEnabled,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		logger.Error("metrics init failed", "error", err)
		return 1
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metrics.Shutdown(shutCtx)
	}()

	pool := projector.NewPool(
		projector.New(events, capsules, metrics, logger),
		q, metrics, logger,
		projector.WithWorkers(cfg.Workers),
		projector.WithMaxAttempts(cfg.MaxAttempts),
	)

	logger.Info("worker running", "workers", cfg.Workers, "queue", cfg.QueuePrefix)
	if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("pool stopped", "error", err)
		return 1
	}
	logger.Info("worker stopped")
	return 0
}
