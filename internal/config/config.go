// Package config loads configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "FUSE_DOCKER_"

// Config holds the mount configuration.
type Config struct {
	// Mount
	MountPoint   string
	AllowOther   bool
	FuseDebug    bool
	EntryTimeout time.Duration
	AttrTimeout  time.Duration

	// Docker daemon (empty uses DOCKER_HOST / the local socket)
	DockerHost   string
	PingAttempts int

	// Cache
	CacheTTL          time.Duration
	RefreshBackoff    time.Duration
	RefreshBackoffMax time.Duration

	// Callback bridge
	MaxInFlight int64
	CallTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics (empty disables the listener)
	MetricsAddr string
}

// Load reads configuration from environment variables with defaults.
// Variables in envFile, if it exists, are loaded first without
// overriding the process environment. An empty envFile skips the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		MountPoint:        envOr("MOUNT_POINT", "/tmp/fuse"),
		AllowOther:        envBool("ALLOW_OTHER", false),
		FuseDebug:         envBool("FUSE_DEBUG", false),
		EntryTimeout:      envDuration("ENTRY_TIMEOUT", time.Second),
		AttrTimeout:       envDuration("ATTR_TIMEOUT", time.Second),
		DockerHost:        envOr("DOCKER_HOST", ""),
		PingAttempts:      envInt("PING_ATTEMPTS", 3),
		CacheTTL:          envDuration("CACHE_TTL", 5*time.Second),
		RefreshBackoff:    envDuration("REFRESH_BACKOFF", 500*time.Millisecond),
		RefreshBackoffMax: envDuration("REFRESH_BACKOFF_MAX", 30*time.Second),
		MaxInFlight:       int64(envInt("MAX_IN_FLIGHT", 64)),
		CallTimeout:       envDuration("CALL_TIMEOUT", 0),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFormat:         envOr("LOG_FORMAT", "auto"),
		MetricsAddr:       envOr("METRICS_ADDR", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that would otherwise fail deep inside the
// mount.
func (c *Config) Validate() error {
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %s", c.CacheTTL)
	}
	if c.MaxInFlight < 1 {
		return fmt.Errorf("max in-flight callbacks must be at least 1, got %d", c.MaxInFlight)
	}
	if c.PingAttempts < 1 {
		return fmt.Errorf("ping attempts must be at least 1, got %d", c.PingAttempts)
	}
	if c.RefreshBackoffMax > 0 && c.RefreshBackoffMax < c.RefreshBackoff {
		return fmt.Errorf("refresh backoff max %s is below initial backoff %s", c.RefreshBackoffMax, c.RefreshBackoff)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
