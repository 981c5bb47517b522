// Package main runs the signage HTTP server: ad management, display playback over
// WebSocket, and the local video cache.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-signage/backend/config"
	"github.com/aura-signage/backend/internal/ads"
	"github.com/aura-signage/backend/internal/live"
	"github.com/aura-signage/backend/internal/middleware"
	"github.com/aura-signage/backend/internal/playback"
	"github.com/aura-signage/backend/internal/realtime"
	"github.com/aura-signage/backend/internal/videocache"
	"github.com/aura-signage/backend/pkg/database"
	"github.com/aura-signage/backend/pkg/queue"
	"github.com/aura-signage/backend/pkg/redis"
	"github.com/aura-signage/backend/pkg/response"
	"github.com/aura-signage/backend/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

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

	var media ads.MediaUploader
	if cfg.AWS.MediaBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			MediaBucket:     cfg.AWS.MediaBucket,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			media = s3Client
		}
	}

	jobQueue := queue.NewQueue(rdb.Client, logger, cfg.Prefetch.MaxAttempts)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	adRepo := ads.NewRepository(pool)
	liveSvc := live.NewService(adRepo, hub, cache, jobQueue, live.Options{
		Playback: playback.Options{
			CheckInterval: cfg.Playback.CheckInterval,
			StartDelay:    cfg.Playback.StartDelay,
			AdvanceDelay:  cfg.Playback.AdvanceDelay,
			ReturnDelay:   cfg.Playback.ReturnDelay,
		},
		Lookahead: cfg.Prefetch.Lookahead,
		AutoStart: cfg.Playback.AutoStart,
		Logger:    logger.Named("live"),
	})
	hub.SetInboundHandler(liveSvc.HandleInbound)
	hub.SetPresenceHandler(liveSvc.HandlePresence)

	adHandler := ads.NewHandler(adRepo, liveSvc, jobQueue, media, cache, logger)
	cacheHandler := videocache.NewHandler(cache, logger)
	liveHandler := live.NewHandler(liveSvc, logger)

	router := gin.New()
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.Server.CORSOrigins()))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	adHandler.Register(router)
	cacheHandler.Register(router)
	liveHandler.Register(router)

	// Screens connect with ?display_id=...
	router.GET("/ws", realtime.ServeWs(hub, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	prefetchCtx, prefetchCancel := context.WithCancel(context.Background())
	defer prefetchCancel()
	go liveSvc.RunPrefetch(prefetchCtx, cfg.Prefetch.PollInterval)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	prefetchCancel()
	liveSvc.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
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
