package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/chronovault/pkg/api"
	"github.com/Mindburn-Labs/chronovault/pkg/artifacts"
	"github.com/Mindburn-Labs/chronovault/pkg/command"
	"github.com/Mindburn-Labs/chronovault/pkg/config"
	"github.com/Mindburn-Labs/chronovault/pkg/export"
	"github.com/Mindburn-Labs/chronovault/pkg/observability"
	"github.com/Mindburn-Labs/chronovault/pkg/projection"
	"github.com/Mindburn-Labs/chronovault/pkg/projector"
	"github.com/Mindburn-Labs/chronovault/pkg/queue"
	"github.com/Mindburn-Labs/chronovault/pkg/social"
	"github.com/Mindburn-Labs/chronovault/pkg/store"
	"github.com/Mindburn-Labs/chronovault/pkg/verifier"

	_ "github.com/lib/pq" // Postgres Driver
	_ "modernc.org/sqlite"
)

func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, store.Dialect, error) {
	if cfg.Driver == "postgres" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, "", fmt.Errorf("ping postgres: %w", err)
		}
		return db, store.DialectPostgres, nil
	}

	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		return nil, "", fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes itself; one connection avoids
	// SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)
	return db, store.DialectSQLite, nil
}

func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func runServer(stdout, stderr io.Writer) int {
	fmt.Fprintf(stdout, "%sChronoVault starting...%s\n", ColorBold+ColorBlue, ColorReset)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
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
	logger.Info("database connected", "driver", cfg.Driver)

	events := store.NewSQLStore(db, dialect, cfg.HashSecret)
	capsules := projection.NewSQLStore(db, dialect)
	comments := social.NewSQLStore(db, dialect)
	for _, init := range []interface {
		Init(context.Context) error
	}{events, capsules, comments} {
		if err := init.Init(ctx); err != nil {
			logger.Error("schema init failed", "error", err)
			return 1
		}
	}

	metrics, err := observability.New(ctx, &observability.Config{
		ServiceName:    "chronovault",
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

	var (
		q           queue.Queue
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient, err = openRedis(ctx, cfg)
		if err != nil {
			logger.Error("redis unavailable", "error", err)
			return 1
		}
		defer redisClient.Close()
		q = queue.NewRedisQueue(redisClient, cfg.QueuePrefix)
		logger.Info("queue ready", "backend", "redis", "addr", cfg.RedisAddr)
	} else {
		mq := queue.NewMemoryQueue()
		defer mq.Close()
		q = mq
		logger.Info("queue ready", "backend", "memory")
	}

	commands, err := command.NewService(events, capsules, comments, q, metrics, logger)
	if err != nil {
		logger.Error("command service init failed", "error", err)
		return 1
	}

	verify := verifier.New(events, cfg.HashSecret)

	sinkLocation := cfg.ExportStoreURL
	if sinkLocation == "" {
		sinkLocation = cfg.ExportDir
	}
	sink, err := artifacts.NewStoreFromURL(ctx, sinkLocation)
	if err != nil {
		logger.Error("export store init failed", "error", err)
		return 1
	}
	exporter := export.New(events, verify, sink)

	// Embedded projection worker. With Redis configured, extra
	// `chronovault worker` processes can share the load.
	pool := projector.NewPool(
		projector.New(events, capsules, metrics, logger),
		q, metrics, logger,
		projector.WithWorkers(cfg.Workers),
		projector.WithMaxAttempts(cfg.MaxAttempts),
	)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("projection pool stopped", "error", err)
		}
	}()

	opts := []api.ServerOption{
		api.WithExporter(exporter),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		api.WithMetrics(metrics),
		api.WithVersion(cfg.ServiceVersion),
		api.WithHealthCheck("db", db.PingContext),
	}
	if redisClient != nil {
		opts = append(opts, api.WithHealthCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}

	server := api.NewServer(commands, events, capsules, comments, verify,
		api.NewActorResolver(cfg.JWTSecret), logger, opts...)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	wg.Wait()
	return 0
}
