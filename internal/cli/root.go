// Package cli implements signagectl, the operator tool for the video cache and ad schedules.
package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aura-signage/backend/config"
	"github.com/aura-signage/backend/internal/videocache"
	"github.com/aura-signage/backend/pkg/redis"
)

// CacheOpener opens the video cache the commands operate on. The returned func releases it.
type CacheOpener func(ctx context.Context) (*videocache.Store, func(), error)

// Env holds what the commands need from the outside world.
type Env struct {
	OpenCache CacheOpener
	Now       func() time.Time
	Out       io.Writer
}

// Execute runs signagectl against the configured cache.
func Execute() error {
	return NewRootCommand(Env{OpenCache: openConfiguredCache}).Execute()
}

// NewRootCommand builds the command tree. Zero fields of env take process defaults.
func NewRootCommand(env Env) *cobra.Command {
	if env.Now == nil {
		env.Now = time.Now
	}
	if env.OpenCache == nil {
		env.OpenCache = openConfiguredCache
	}

	root := &cobra.Command{
		Use:   "signagectl",
		Short: "Inspect the video cache and evaluate ad schedules",
		Long: `signagectl works on the same cache backend as the server and worker
(VIDEO_CACHE_BACKEND, VIDEO_CACHE_DIR, REDIS_ADDR) and evaluates YAML ad lists offline.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	if env.Out != nil {
		root.SetOut(env.Out)
	}

	root.AddCommand(newCacheCommand(env))
	root.AddCommand(newScheduleCommand(env))
	return root
}

func openConfiguredCache(ctx context.Context) (*videocache.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := zap.NewNop()

	bc := videocache.BackendConfig{Kind: cfg.Cache.Backend, Dir: cfg.Cache.Dir, Prefix: cfg.Cache.RedisPrefix}
	var rdb *redis.Client
	if cfg.Cache.Backend == config.CacheBackendRedis {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			return nil, nil, err
		}
		bc.Redis = rdb.Client
	}
	if cfg.Cache.Backend == config.CacheBackendMemory {
		fmt.Fprintln(os.Stderr, "warning: memory backend starts empty on every run")
	}

	release := func() {
		if rdb != nil {
			_ = rdb.Close()
		}
	}
	backend, err := videocache.NewBackend(bc)
	if err != nil {
		release()
		return nil, nil, err
	}
	store, err := videocache.Open(ctx, backend,
		videocache.WithBaseURL(cfg.Cache.BaseURL),
		videocache.WithSchemaVersion(cfg.Cache.SchemaVersion),
		videocache.WithMaxSize(cfg.Cache.MaxVideoBytes),
		videocache.WithHTTPClient(&http.Client{Timeout: cfg.Cache.DownloadTimeout}),
		videocache.WithLogger(logger),
	)
	if err != nil {
		release()
		return nil, nil, err
	}
	return store, func() {
		_ = store.Close()
		release()
	}, nil
}
