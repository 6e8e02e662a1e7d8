package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreFilesystem = "filesystem"
	StoreSQLite     = "sqlite"
)

// Config holds shared runtime configuration for the API, worker and admin
// binaries. MetricsAddr is only used by cmd/worker; the API serves /metrics on
// HTTPPort.
type Config struct {
	Env         string `env:"APP_ENV" envDefault:"dev"`
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"console"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"filesystem"`
	DataDir     string `env:"TASK_QUEUE_DATA_DIR" envDefault:"./data"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"./data/tasks.db"`

	ThumbnailWidth      int    `env:"THUMBNAIL_WIDTH" envDefault:"100"`
	ThumbnailHeight     int    `env:"THUMBNAIL_HEIGHT" envDefault:"100"`
	ThumbnailBackground string `env:"THUMBNAIL_BACKGROUND" envDefault:"#ffffff"`
	ThumbnailFormat     string `env:"THUMBNAIL_FORMAT" envDefault:"png"`
	MaxUploadBytes      int64  `env:"MAX_UPLOAD_BYTES" envDefault:"5242880"`
	MaxImagePixels      int64  `env:"MAX_IMAGE_PIXELS" envDefault:"89478485"`

	WorkerPollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"1s"`
	HealthInterval     time.Duration `env:"SUPERVISOR_HEALTH_INTERVAL" envDefault:"1s"`
	ShutdownGrace      time.Duration `env:"WORKER_SHUTDOWN_GRACE" envDefault:"5s"`
	StallAfter         time.Duration `env:"SUPERVISOR_STALL_AFTER" envDefault:"30s"`
	EmbeddedWorker     bool          `env:"EMBEDDED_WORKER" envDefault:"true"`

	RedisAddr         string  `env:"REDIS_ADDR"`
	RedisPassword     string  `env:"REDIS_PASSWORD"`
	RedisDB           int     `env:"REDIS_DB" envDefault:"0"`
	RateLimitCapacity int     `env:"RATE_LIMIT_CAPACITY" envDefault:"50"`
	RateLimitRefill   float64 `env:"RATE_LIMIT_REFILL_PER_SEC" envDefault:"20"`
}

// Load reads an optional .env file and then environment variables, falling back
// to defaults suitable for local development.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Defaults returns the configuration produced by an empty environment.
func Defaults() Config {
	var cfg Config
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	cfg.Sanitize()
	return cfg
}

// Sanitize replaces out-of-range values with their defaults.
func (c *Config) Sanitize() {
	if c.ThumbnailWidth <= 0 {
		c.ThumbnailWidth = 100
	}
	if c.ThumbnailHeight <= 0 {
		c.ThumbnailHeight = 100
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 5 * 1024 * 1024
	}
	if c.MaxImagePixels <= 0 {
		c.MaxImagePixels = 89_478_485
	}
	if c.WorkerPollInterval <= 0 {
		c.WorkerPollInterval = time.Second
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Second
	}
	if c.StallAfter <= 0 {
		c.StallAfter = 30 * time.Second
	}
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	if c.StoreDriver == "" {
		c.StoreDriver = StoreFilesystem
	}
	c.ThumbnailFormat = strings.ToLower(strings.TrimSpace(c.ThumbnailFormat))
	switch c.ThumbnailFormat {
	case "png", "jpeg", "gif":
	case "jpg":
		c.ThumbnailFormat = "jpeg"
	default:
		c.ThumbnailFormat = "png"
	}
	if _, err := ParseHexColor(c.ThumbnailBackground); err != nil {
		c.ThumbnailBackground = "#ffffff"
	}
}

// Validate reports settings that cannot be defaulted. An unknown store driver
// is an error so that the API and a standalone worker never silently open
// different stores.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreFilesystem, StoreSQLite:
		return nil
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want %q or %q)", c.StoreDriver, StoreFilesystem, StoreSQLite)
	}
}

// Background returns the configured thumbnail padding color.
func (c Config) Background() color.NRGBA {
	col, err := ParseHexColor(c.ThumbnailBackground)
	if err != nil {
		return color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	}
	return col
}

// ParseHexColor parses "#rrggbb" or "#rrggbbaa".
func ParseHexColor(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 && len(s) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	if len(s) == 6 {
		v = v<<8 | 0xff
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
