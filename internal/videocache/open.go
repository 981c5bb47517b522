package videocache

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Backend kinds accepted by NewBackend.
const (
	KindFS     = "fs"
	KindRedis  = "redis"
	KindMemory = "memory"
)

// BackendConfig selects a backend. Dir is used by KindFS; Redis and Prefix by KindRedis.
type BackendConfig struct {
	Kind   string
	Dir    string
	Redis  *redis.Client
	Prefix string
}

// NewBackend builds the backend named by cfg.Kind.
func NewBackend(cfg BackendConfig) (Backend, error) {
	switch cfg.Kind {
	case KindFS:
		return NewFSBackend(cfg.Dir)
	case KindRedis:
		if cfg.Redis == nil {
			return nil, errors.New("redis backend needs a client")
		}
		return NewRedisBackend(cfg.Redis, cfg.Prefix), nil
	case KindMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Kind)
	}
}
