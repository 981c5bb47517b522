// Package main runs the background job worker that downloads queued videos into the cache.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-signage/backend/config"
	"github.com/aura-signage/backend/internal/videocache"
	"github.com/aura-signage/backend/internal/worker"
	"github.com/aura-signage/backend/pkg/queue"
	"github.com/aura-signage/backend/pkg/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	ctx := context.Background()
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	backend, err := videocache.NewBackend(videocache.BackendConfig{
		Kind:   cfg.Cache.Backend,
		Dir:    cfg.Cache.Dir,
		Redis:  rdb.Client,
		Prefix: cfg.Cache.RedisPrefix,
	})
	if err != nil {
		logger.Fatal("video cache backend", zap.Error(err))
	}
	if cfg.Cache.Backend == config.CacheBackendMemory {
		logger.Warn("memory cache backend is private to this process; the server will not see downloads")
	}
	cache, err := videocache.Open(ctx, backend,
		videocache.WithBaseURL(cfg.Cache.BaseURL),
		videocache.WithSchemaVersion(cfg.Cache.SchemaVersion),
		videocache.WithMaxSize(cfg.Cache.MaxVideoBytes),
		videocache.WithHTTPClient(&http.Client{Timeout: cfg.Cache.DownloadTimeout}),
		videocache.WithLogger(logger.Named("videocache")),
	)
	if err != nil {
		logger.Fatal("video cache", zap.Error(err))
	}
	defer cache.Close()

	jobQueue := queue.NewQueue(rdb.Client, logger, cfg.Prefetch.MaxAttempts)
	processor := worker.NewPrefetchProcessor(cache, jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("worker started", zap.String("cache_backend", cfg.Cache.Backend))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		config.Level = lvl
	}
	logger, _ := config.Build()
	return logger
}
