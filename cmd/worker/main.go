package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bustrack/internal/config"
	"bustrack/internal/entity"
	"bustrack/internal/location"
	"bustrack/internal/logger"
	"bustrack/internal/queue"
	"bustrack/internal/retention"
	"bustrack/internal/store"
)

// Worker consumes ping events and keeps the ping collection under the retention ceiling.
func main() {
	cfg := config.Load()
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := store.Open(ctx, cfg.StoreBackend, store.Options{
		DatabaseURL:   cfg.DatabaseURL,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
	})
	if err != nil {
		zl.Fatal("store connect failed", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = backend.Close(closeCtx)
	}()

	stores := entity.NewStores(backend)
	if err := stores.Migrate(ctx); err != nil {
		zl.Fatal("migrate failed", zap.Error(err))
	}

	// Without redis there is no shared queue to follow; the ticker alone drives pruning.
	var q queue.Queue
	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
	defer func() { _ = redisClient.Close() }()
	if cfg.QueueBackend != "memory" && redisClient.Healthy(ctx) {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, zl.Named("queue"))
	} else {
		zl.Warn("redis queue unavailable, pruning on schedule only")
	}

	locations := location.NewService(stores.Pings, nil, cfg.RetentionCeiling, zl.Named("location"))
	w := retention.NewWorker(locations, q, retention.Options{
		Interval:     cfg.PruneInterval,
		Timeout:      cfg.PruneTimeout,
		EventsPerRun: cfg.PruneEvery,
	}, zl.Named("retention"))

	if err := w.Run(ctx); err != nil {
		zl.Fatal("worker failed", zap.Error(err))
	}
}
