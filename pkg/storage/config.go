package storage

import (
	"fmt"
	"net/url"
	"time"
)

// Config for the persistence backends
type Config struct {
	// PostgreSQL config
	PostgresURL         string        `yaml:"postgres_url"`
	PostgresReplicaURLs []string      `yaml:"postgres_replica_urls"`
	PostgresMaxConns    int           `yaml:"postgres_max_conns"`
	PostgresMinConns    int           `yaml:"postgres_min_conns"`
	PostgresTimeout     time.Duration `yaml:"postgres_timeout"`
	PostgresMaxLifetime time.Duration `yaml:"postgres_max_lifetime"`
	PostgresMaxIdleTime time.Duration `yaml:"postgres_max_idle_time"`

	// Redis config
	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns:    20,
		PostgresMinConns:    2,
		PostgresTimeout:     10 * time.Second,
		PostgresMaxLifetime: time.Hour,
		PostgresMaxIdleTime: 10 * time.Minute,
		RedisDB:             0,
		RedisMaxRetries:     3,
		RedisPoolSize:       10,
	}
}

// PostgresEnabled reports whether a system-of-record database is configured
func (c Config) PostgresEnabled() bool {
	return c.PostgresURL != ""
}

// RedisEnabled reports whether a shared cache is configured
func (c Config) RedisEnabled() bool {
	return c.RedisURL != ""
}

// Validate checks the configuration for consistency
func (c Config) Validate() error {
	if c.PostgresEnabled() {
		if _, err := url.Parse(c.PostgresURL); err != nil {
			return fmt.Errorf("invalid postgres URL: %w", err)
		}
		if c.PostgresMaxConns <= 0 {
			return fmt.Errorf("postgres max conns must be positive, got %d", c.PostgresMaxConns)
		}
		if c.PostgresMinConns < 0 || c.PostgresMinConns > c.PostgresMaxConns {
			return fmt.Errorf("postgres min conns must be between 0 and %d, got %d", c.PostgresMaxConns, c.PostgresMinConns)
		}
		if c.PostgresTimeout <= 0 {
			return fmt.Errorf("postgres timeout must be positive")
		}
	} else if len(c.PostgresReplicaURLs) > 0 {
		return fmt.Errorf("postgres replicas configured without a primary")
	}

	if c.RedisEnabled() {
		u, err := url.Parse(c.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis URL must use redis:// or rediss://, got %q", u.Scheme)
		}
		if c.RedisDB < 0 {
			return fmt.Errorf("redis db must not be negative")
		}
		if c.RedisPoolSize < 0 {
			return fmt.Errorf("redis pool size must not be negative")
		}
	}
	return nil
}
