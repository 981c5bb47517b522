package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	AWS      AWSConfig
	Cache    CacheConfig
	Playback PlaybackConfig
	Prefetch PrefetchConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
	LogLevel           string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/signage?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AWSConfig holds AWS credentials and the media bucket.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	MediaBucket     string
}

// Cache backends. The values match the videocache backend kinds.
const (
	CacheBackendFS     = "fs"
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

// CacheConfig selects and tunes the video cache.
type CacheConfig struct {
	Backend         string // fs, redis or memory
	Dir             string // fs backend root
	RedisPrefix     string
	BaseURL         string // prefix of handles given to displays
	SchemaVersion   int
	DownloadTimeout time.Duration
	MaxVideoBytes   int64 // downloads larger than this are rejected
}

// PlaybackConfig holds ad controller timings. Zero values take the controller defaults.
type PlaybackConfig struct {
	CheckInterval time.Duration
	StartDelay    time.Duration
	AdvanceDelay  time.Duration
	ReturnDelay   time.Duration
	// AutoStart runs a display's controller while at least one screen is connected.
	AutoStart bool
}

// PrefetchConfig controls how far ahead video ads are pulled into the cache.
type PrefetchConfig struct {
	Lookahead    time.Duration
	PollInterval time.Duration
	MaxAttempts  int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Validate checks values that would otherwise fail late at startup.
func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required, validation.In(CacheBackendFS, CacheBackendRedis, CacheBackendMemory)),
		validation.Field(&c.Dir, validation.When(c.Backend == CacheBackendFS, validation.Required)),
		validation.Field(&c.SchemaVersion, validation.Required, validation.Min(1)),
		validation.Field(&c.DownloadTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxVideoBytes, validation.Required, validation.Min(int64(1))),
	)
}

// Validate checks the prefetch settings.
func (c PrefetchConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Lookahead, validation.Min(time.Duration(0))),
		validation.Field(&c.PollInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1)),
	)
}

// Validate checks every section that has constraints.
func (c *Config) Validate() error {
	return validation.Errors{
		"cache":    c.Cache.Validate(),
		"prefetch": c.Prefetch.Validate(),
	}.Filter()
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
			LogLevel:           getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "signage"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			MediaBucket:     getEnv("AWS_S3_MEDIA_BUCKET", "signage-media"),
		},
		Cache: CacheConfig{
			Backend:         strings.ToLower(getEnv("VIDEO_CACHE_BACKEND", CacheBackendFS)),
			Dir:             getEnv("VIDEO_CACHE_DIR", "./data/videocache"),
			RedisPrefix:     getEnv("VIDEO_CACHE_REDIS_PREFIX", "videocache:"),
			BaseURL:         getEnv("VIDEO_CACHE_BASE_URL", "/cache/videos"),
			SchemaVersion:   getEnvInt("VIDEO_CACHE_SCHEMA_VERSION", 1),
			DownloadTimeout: time.Duration(getEnvInt("VIDEO_DOWNLOAD_TIMEOUT_SEC", 300)) * time.Second,
			MaxVideoBytes:   int64(getEnvInt("VIDEO_CACHE_MAX_MB", 500)) << 20,
		},
		Playback: PlaybackConfig{
			CheckInterval: time.Duration(getEnvInt("AD_CHECK_INTERVAL_MS", 10000)) * time.Millisecond,
			StartDelay:    time.Duration(getEnvInt("AD_START_DELAY_MS", 100)) * time.Millisecond,
			AdvanceDelay:  time.Duration(getEnvInt("AD_ADVANCE_DELAY_MS", 300)) * time.Millisecond,
			ReturnDelay:   time.Duration(getEnvInt("AD_RETURN_DELAY_MS", 500)) * time.Millisecond,
			AutoStart:     getEnvBool("AD_AUTO_START", true),
		},
		Prefetch: PrefetchConfig{
			Lookahead:    time.Duration(getEnvInt("PREFETCH_LOOKAHEAD_MIN", 30)) * time.Minute,
			PollInterval: time.Duration(getEnvInt("PREFETCH_POLL_SEC", 60)) * time.Second,
			MaxAttempts:  getEnvInt("PREFETCH_MAX_ATTEMPTS", 3),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// CORSOrigins returns the allowed origins as a list.
func (c ServerConfig) CORSOrigins() []string {
	return splitTrim(c.CORSAllowedOrigins, ",")
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
