package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentmitra/tenancy/pkg/observability"
	"github.com/agentmitra/tenancy/pkg/storage"
)

// FileEnv names the variable holding an optional YAML config file path
const FileEnv = "TENANCY_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       storage.Config      `yaml:"storage"`
	Cache         CacheConfig         `yaml:"cache"`
	Crypto        CryptoConfig        `yaml:"crypto"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds the ops HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AdminToken guards the /admin routes; empty disables them
	AdminToken string `yaml:"admin_token"`
	// ServiceToken guards the /v1 routes; holders may assert X-User-ID
	ServiceToken string `yaml:"service_token"`
	// TrustUserHeader accepts X-User-ID on /v1 without a service token
	TrustUserHeader bool `yaml:"trust_user_header"`

	// RateLimitWindow is the window of the per-tenant API call quota
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
	// RateLimitFailOpen admits requests when the quota counter is unreachable
	RateLimitFailOpen bool `yaml:"rate_limit_fail_open"`
}

// CacheConfig holds the tenant cache settings
type CacheConfig struct {
	Namespace    string        `yaml:"namespace"`
	DefaultTTL   time.Duration `yaml:"default_ttl"`
	RegistryTTL  time.Duration `yaml:"registry_ttl"`
	RegistrySize int           `yaml:"registry_size"`
	GrantTTL     time.Duration `yaml:"grant_ttl"`
	UsageTTL     time.Duration `yaml:"usage_ttl"`
	// MemorySize bounds the in-process transport used when Redis is not configured
	MemorySize int `yaml:"memory_size"`
	// WarmTenants are resolved at startup
	WarmTenants []string `yaml:"warm_tenants"`
	// StatsSchedule is the cron spec for cache statistics reporting
	StatsSchedule string `yaml:"stats_schedule"`
}

// CryptoConfig holds the envelope encryption settings
type CryptoConfig struct {
	// MasterKeyEnv names the variable holding the master key
	MasterKeyEnv string `yaml:"master_key_env"`
	// MasterKeyFile, when set, takes precedence over MasterKeyEnv and is watched for changes
	MasterKeyFile string        `yaml:"master_key_file"`
	Iterations    int           `yaml:"iterations"`
	KeyTTL        time.Duration `yaml:"key_ttl"`
	KeyCacheSize  int           `yaml:"key_cache_size"`
}

// AuditConfig holds the audit trail settings
type AuditConfig struct {
	// Dir, when set, also writes the trail as JSON lines under this directory
	Dir         string `yaml:"dir"`
	MaxFileSize int64  `yaml:"max_file_size"`
	MaxFiles    int    `yaml:"max_files"`
	// MemorySize bounds the in-process trail used when Postgres is not configured
	MemorySize int `yaml:"memory_size"`
	// Retention is how long database events are kept; zero keeps them forever
	Retention time.Duration `yaml:"retention"`
	// PurgeSchedule is the cron spec of the retention job
	PurgeSchedule string `yaml:"purge_schedule"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel returns the OpenTelemetry settings in the form InitOTel expects
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,

			RateLimitWindow:   time.Hour,
			RateLimitFailOpen: true,
		},
		Storage: storage.DefaultConfig(),
		Cache: CacheConfig{
			Namespace:     "tenancy",
			DefaultTTL:    5 * time.Minute,
			RegistryTTL:   5 * time.Minute,
			RegistrySize:  1024,
			GrantTTL:      time.Minute,
			UsageTTL:      time.Hour,
			MemorySize:    10000,
			StatsSchedule: "@every 5m",
		},
		Crypto: CryptoConfig{
			MasterKeyEnv: "TENANCY_MASTER_KEY",
			Iterations:   100000,
			KeyTTL:       time.Hour,
			KeyCacheSize: 4096,
		},
		Audit: AuditConfig{
			MaxFileSize:   100 * 1024 * 1024,
			MaxFiles:      10,
			MemorySize:    10000,
			Retention:     90 * 24 * time.Hour,
			PurgeSchedule: "@daily",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "tenancy",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads configuration from the file named by TENANCY_CONFIG_FILE,
// if any, and then from environment variables
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(FileEnv))
}

// Load layers defaults, the YAML file at path (skipped when empty) and
// environment variables, then validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	// Server
	c.Server.Host = getEnv("TENANCY_HOST", c.Server.Host)
	c.Server.Port = getEnv("TENANCY_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("TENANCY_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("TENANCY_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("TENANCY_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("TENANCY_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.AdminToken = getEnv("TENANCY_ADMIN_TOKEN", c.Server.AdminToken)
	c.Server.ServiceToken = getEnv("TENANCY_SERVICE_TOKEN", c.Server.ServiceToken)
	c.Server.TrustUserHeader = getEnvBool("TENANCY_TRUST_USER_HEADER", c.Server.TrustUserHeader)
	c.Server.RateLimitWindow = getEnvDuration("TENANCY_RATE_LIMIT_WINDOW", c.Server.RateLimitWindow)
	c.Server.RateLimitFailOpen = getEnvBool("TENANCY_RATE_LIMIT_FAIL_OPEN", c.Server.RateLimitFailOpen)

	// PostgreSQL
	c.Storage.PostgresURL = getEnv("TENANCY_POSTGRES_URL", c.Storage.PostgresURL)
	if replicas := getEnv("TENANCY_POSTGRES_REPLICA_URLS", ""); replicas != "" {
		c.Storage.PostgresReplicaURLs = splitList(replicas)
	}
	c.Storage.PostgresMaxConns = getEnvInt("TENANCY_POSTGRES_MAX_CONNS", c.Storage.PostgresMaxConns)
	c.Storage.PostgresMinConns = getEnvInt("TENANCY_POSTGRES_MIN_CONNS", c.Storage.PostgresMinConns)
	c.Storage.PostgresTimeout = getEnvDuration("TENANCY_POSTGRES_TIMEOUT", c.Storage.PostgresTimeout)

	// Redis
	c.Storage.RedisURL = getEnv("TENANCY_REDIS_URL", c.Storage.RedisURL)
	c.Storage.RedisPassword = getEnv("TENANCY_REDIS_PASSWORD", c.Storage.RedisPassword)
	c.Storage.RedisDB = getEnvInt("TENANCY_REDIS_DB", c.Storage.RedisDB)
	c.Storage.RedisMaxRetries = getEnvInt("TENANCY_REDIS_MAX_RETRIES", c.Storage.RedisMaxRetries)
	c.Storage.RedisPoolSize = getEnvInt("TENANCY_REDIS_POOL_SIZE", c.Storage.RedisPoolSize)

	// Cache
	c.Cache.Namespace = getEnv("TENANCY_CACHE_NAMESPACE", c.Cache.Namespace)
	c.Cache.DefaultTTL = getEnvDuration("TENANCY_CACHE_DEFAULT_TTL", c.Cache.DefaultTTL)
	c.Cache.RegistryTTL = getEnvDuration("TENANCY_REGISTRY_TTL", c.Cache.RegistryTTL)
	c.Cache.RegistrySize = getEnvInt("TENANCY_REGISTRY_SIZE", c.Cache.RegistrySize)
	c.Cache.GrantTTL = getEnvDuration("TENANCY_GRANT_TTL", c.Cache.GrantTTL)
	c.Cache.UsageTTL = getEnvDuration("TENANCY_USAGE_TTL", c.Cache.UsageTTL)
	c.Cache.MemorySize = getEnvInt("TENANCY_CACHE_MEMORY_SIZE", c.Cache.MemorySize)
	if warm := getEnv("TENANCY_WARM_TENANTS", ""); warm != "" {
		c.Cache.WarmTenants = splitList(warm)
	}
	c.Cache.StatsSchedule = getEnv("TENANCY_CACHE_STATS_SCHEDULE", c.Cache.StatsSchedule)

	// Crypto
	c.Crypto.MasterKeyEnv = getEnv("TENANCY_MASTER_KEY_ENV", c.Crypto.MasterKeyEnv)
	c.Crypto.MasterKeyFile = getEnv("TENANCY_MASTER_KEY_FILE", c.Crypto.MasterKeyFile)
	c.Crypto.Iterations = getEnvInt("TENANCY_KEY_ITERATIONS", c.Crypto.Iterations)
	c.Crypto.KeyTTL = getEnvDuration("TENANCY_KEY_TTL", c.Crypto.KeyTTL)
	c.Crypto.KeyCacheSize = getEnvInt("TENANCY_KEY_CACHE_SIZE", c.Crypto.KeyCacheSize)

	// Audit
	c.Audit.Dir = getEnv("TENANCY_AUDIT_DIR", c.Audit.Dir)
	c.Audit.MaxFiles = getEnvInt("TENANCY_AUDIT_MAX_FILES", c.Audit.MaxFiles)
	c.Audit.MemorySize = getEnvInt("TENANCY_AUDIT_MEMORY_SIZE", c.Audit.MemorySize)
	c.Audit.Retention = getEnvDuration("TENANCY_AUDIT_RETENTION", c.Audit.Retention)
	c.Audit.PurgeSchedule = getEnv("TENANCY_AUDIT_PURGE_SCHEDULE", c.Audit.PurgeSchedule)

	// Observability
	c.Observability.LogLevel = getEnv("TENANCY_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsEnabled = getEnvBool("TENANCY_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("TENANCY_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("TENANCY_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("TENANCY_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("TENANCY_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("TENANCY_OTEL_INSECURE", c.Observability.OTelInsecure)
	c.Observability.OTelSampleRatio = getEnvFloat("TENANCY_OTEL_SAMPLE_RATIO", c.Observability.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.Server.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("rate limit window must be positive"))
	}
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Cache.Namespace == "" || strings.ContainsAny(c.Cache.Namespace, "|*?[]") {
		errs = append(errs, fmt.Errorf("cache namespace %q is invalid", c.Cache.Namespace))
	}
	if c.Cache.RegistryTTL <= 0 || c.Cache.DefaultTTL <= 0 || c.Cache.GrantTTL <= 0 || c.Cache.UsageTTL <= 0 {
		errs = append(errs, errors.New("cache TTLs must be positive"))
	}
	if c.Cache.RegistrySize <= 0 {
		errs = append(errs, errors.New("registry size must be positive"))
	}

	if c.Crypto.MasterKeyEnv == "" && c.Crypto.MasterKeyFile == "" {
		errs = append(errs, errors.New("a master key env var or key file is required"))
	}
	if c.Crypto.Iterations < 1000 {
		errs = append(errs, fmt.Errorf("key derivation iterations must be at least 1000, got %d", c.Crypto.Iterations))
	}
	if c.Crypto.KeyTTL <= 0 {
		errs = append(errs, errors.New("key TTL must be positive"))
	}

	if c.Audit.Retention < 0 {
		errs = append(errs, errors.New("audit retention must not be negative"))
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			errs = append(errs, errors.New("OpenTelemetry endpoint is required when OTel is enabled"))
		}
		if c.Observability.OTelServiceName == "" {
			errs = append(errs, errors.New("OpenTelemetry service name is required when OTel is enabled"))
		}
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
