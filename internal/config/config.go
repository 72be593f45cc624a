package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/triage.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFile  string     `env:"LOG_FILE"`
	SPADir   string     `env:"SPA_DIR" envDefault:"../web/dist"`

	// CacheBackend selects the offline store: sqlite, memory or redis.
	CacheBackend        string `env:"CACHE_BACKEND" envDefault:"sqlite"`
	RedisURL            string `env:"REDIS_URL"`
	StaticCacheVersion  string `env:"STATIC_CACHE_VERSION" envDefault:"v1"`
	DynamicCacheVersion string `env:"DYNAMIC_CACHE_VERSION" envDefault:"v1"`
	SyncOnStart         bool   `env:"SYNC_ON_START" envDefault:"true"`

	// ContentURL is the origin precached for offline use. Empty serves the
	// embedded catalog and trees.
	ContentURL string `env:"CONTENT_URL"`
	// RemoteURL hosts /classify, /refine, /answer-stream and /answer. Empty
	// keeps the engine fully local.
	RemoteURL     string        `env:"REMOTE_URL"`
	WarningsURL   string        `env:"WARNINGS_URL"`
	RemoteTimeout time.Duration `env:"REMOTE_TIMEOUT" envDefault:"8s"`

	SensorWindow time.Duration `env:"SENSOR_WINDOW" envDefault:"500ms"`
	SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"1h"`
}

// Load reads optional dotenv files (".env" when none are given) and then
// the environment. Variables already set win over file values.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading env file: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	switch cfg.CacheBackend {
	case BackendSQLite, BackendMemory:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("CACHE_BACKEND=redis requires REDIS_URL")
		}
	default:
		return nil, fmt.Errorf("unknown CACHE_BACKEND %q", cfg.CacheBackend)
	}
	return &cfg, nil
}
