package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/agentmitra/tenancy/pkg/async"
	"github.com/agentmitra/tenancy/pkg/audit"
	"github.com/agentmitra/tenancy/pkg/cache"
	"github.com/agentmitra/tenancy/pkg/config"
	"github.com/agentmitra/tenancy/pkg/envelope"
	"github.com/agentmitra/tenancy/pkg/execution"
	"github.com/agentmitra/tenancy/pkg/observability"
	"github.com/agentmitra/tenancy/pkg/ratelimit"
	"github.com/agentmitra/tenancy/pkg/rbac"
	"github.com/agentmitra/tenancy/pkg/storage/postgres"
	"github.com/agentmitra/tenancy/pkg/tenant"
)

// TenantStore is the read and write side of the tenant system of record
type TenantStore interface {
	tenant.Store
	tenant.Writer
}

// GrantStore is the read and write side of the grant system of record
type GrantStore interface {
	rbac.GrantStore
	rbac.GrantWriter
}

// App holds the wired tenancy components
type App struct {
	Config   *config.Config
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Registry *prometheus.Registry

	// Conns, Store and Redis are nil when the backend is not configured
	Conns *postgres.ConnectionManager
	Store *postgres.Store
	Redis *postgres.RedisClient

	Tenants     TenantStore
	Grants      GrantStore
	Cache       *cache.Cache
	TenantCache *tenant.Registry
	TenantAdmin *tenant.Admin
	Resolver    *rbac.Resolver
	GrantAdmin  *rbac.Admin
	Limiter     *tenant.Limiter
	RateLimiter *ratelimit.Limiter
	KeySource   envelope.KeySource
	Envelope    *envelope.Service
	Runner      *execution.Runner

	// Trail records admin mutations; AuditLog reads them back
	Trail    *audit.Trail
	AuditLog audit.Searcher

	auditDB *audit.DBLogger
	bg      *async.Group
	closers []func() error
}

// Option customizes New
type Option func(*App)

// WithConnections uses conns as the system of record instead of opening the
// configured Postgres URL. The caller keeps ownership of conns.
func WithConnections(conns *postgres.ConnectionManager) Option {
	return func(a *App) {
		a.Conns = conns
	}
}

// New wires every component from cfg. Without a Postgres URL the system of
// record is held in memory; without a Redis URL the shared cache tier is
// process local.
func New(cfg *config.Config, logger *observability.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Metrics:  observability.NewMetrics(reg),
		Registry: reg,
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.openStorage(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openCache(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openKeySource(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openAudit(); err != nil {
		a.Close()
		return nil, err
	}

	a.TenantCache = tenant.NewRegistry(a.Tenants, a.Cache, tenant.RegistryOptions{
		TTL:     cfg.Cache.RegistryTTL,
		Size:    cfg.Cache.RegistrySize,
		Logger:  logger,
		Metrics: a.Metrics,
	})
	a.TenantAdmin = tenant.NewAdmin(a.Tenants, a.TenantCache, logger)

	a.Resolver = rbac.NewResolver(a.Grants, a.Cache, rbac.ResolverOptions{
		GrantTTL: cfg.Cache.GrantTTL,
		Logger:   logger,
		Metrics:  a.Metrics,
	})
	a.GrantAdmin = rbac.NewAdmin(a.Grants, a.Resolver, logger)

	var usage tenant.UsageCounter = tenant.UsageFunc(func(ctx context.Context, tenantID, resource string) (int64, error) {
		return 0, nil
	})
	if a.Store != nil {
		usage = a.Store
	}
	a.Limiter = tenant.NewLimiter(a.TenantCache, usage, a.Cache, cfg.Cache.UsageTTL, logger, a.Metrics)

	var counter ratelimit.Counter = ratelimit.NewMemoryCounter(nil)
	if a.Redis != nil {
		counter = a.Redis
	}
	a.RateLimiter = ratelimit.NewLimiter(counter, ratelimit.Options{
		Window:   cfg.Server.RateLimitWindow,
		FailOpen: cfg.Server.RateLimitFailOpen,
		Prefix:   cfg.Cache.Namespace + ":ratelimit",
		Logger:   logger,
		Metrics:  a.Metrics,
	})

	a.Envelope = envelope.NewService(a.KeySource, envelope.Options{
		Iterations:   cfg.Crypto.Iterations,
		KeyTTL:       cfg.Crypto.KeyTTL,
		KeyCacheSize: cfg.Crypto.KeyCacheSize,
		Resolver:     a.TenantCache,
		Logger:       logger,
		Metrics:      a.Metrics,
	})

	a.Runner = execution.NewRunner(a.TenantCache, a.Resolver, execution.Options{
		Logger:  logger,
		Metrics: a.Metrics,
	})

	return a, nil
}

func (a *App) openStorage() error {
	if a.Conns == nil && !a.Config.Storage.PostgresEnabled() {
		a.Logger.Warn("no postgres configured, tenants and grants are held in memory")
		a.Tenants = tenant.NewMemoryStore()
		a.Grants = rbac.NewMemoryGrantStore()
		return nil
	}

	if a.Conns == nil {
		conns, err := postgres.NewConnectionManager(a.Config.Storage, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to open postgres: %w", err)
		}
		a.Conns = conns
		a.closers = append(a.closers, conns.Close)
	}

	a.Store = postgres.NewStore(a.Conns, a.Logger)
	a.Tenants = a.Store
	a.Grants = a.Store
	return nil
}

func (a *App) openCache() error {
	var transport cache.Transport
	if a.Config.Storage.RedisEnabled() {
		client, err := postgres.NewRedisClient(a.Config.Storage, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to open redis: %w", err)
		}
		a.Redis = client
		a.closers = append(a.closers, client.Close)
		transport = client
	} else {
		transport = cache.NewMemoryTransport(a.Config.Cache.MemorySize, nil)
	}

	a.Cache = cache.New(transport, cache.Options{
		Namespace:  a.Config.Cache.Namespace,
		DefaultTTL: a.Config.Cache.DefaultTTL,
		Logger:     a.Logger,
		Metrics:    a.Metrics,
	})
	return nil
}

func (a *App) openKeySource() error {
	if path := a.Config.Crypto.MasterKeyFile; path != "" {
		source, err := envelope.NewFileKeySource(path, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to load master key: %w", err)
		}
		a.KeySource = source
		return nil
	}
	a.KeySource = envelope.EnvKeySource{Var: a.Config.Crypto.MasterKeyEnv}
	return nil
}

func (a *App) openAudit() error {
	var loggers []audit.Logger
	if a.Conns != nil {
		db, err := audit.NewDBLogger(a.Conns.Primary())
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		a.auditDB = db
		a.AuditLog = db
		loggers = append(loggers, db)
	} else {
		mem := audit.NewMemoryLogger(a.Config.Audit.MemorySize)
		a.AuditLog = mem
		loggers = append(loggers, mem)
	}

	if dir := a.Config.Audit.Dir; dir != "" {
		file, err := audit.NewFileLogger(audit.FileLoggerConfig{
			Dir:      dir,
			MaxSize:  a.Config.Audit.MaxFileSize,
			MaxFiles: a.Config.Audit.MaxFiles,
		})
		if err != nil {
			return fmt.Errorf("failed to open audit log file: %w", err)
		}
		a.closers = append(a.closers, file.Close)
		loggers = append(loggers, file)
	}

	a.Trail = audit.NewTrail(audit.NewMultiLogger(loggers...), a.Logger)
	return nil
}

// Start launches the background loops: remote invalidation, master key
// file watching and replica health checks. They stop when ctx is done or
// on Stop.
func (a *App) Start(ctx context.Context) {
	a.bg = async.NewGroup(ctx, a.Logger)
	_ = a.bg.Go("tenant invalidation listener", a.TenantCache.Listen)

	if source, ok := a.KeySource.(*envelope.FileKeySource); ok {
		_ = a.bg.Go("master key watcher", func(ctx context.Context) error {
			return source.Watch(ctx, func() {
				a.Envelope.RotateAll()
				a.Logger.Info("derived keys purged after master key change")
			})
		})
	}

	if a.Conns != nil && a.Conns.ReplicaCount() > 0 {
		a.Conns.StartHealthCheckRoutine(ctx, 30*time.Second)
	}
}

// Stop cancels the loops launched by Start and waits up to timeout
func (a *App) Stop(timeout time.Duration) error {
	if a.bg == nil {
		return nil
	}
	return a.bg.Shutdown(timeout)
}

// Warm resolves the configured warm tenants
func (a *App) Warm(ctx context.Context) error {
	ids := a.Config.Cache.WarmTenants
	if len(ids) == 0 {
		return nil
	}
	if err := a.TenantCache.Warm(ctx, ids...); err != nil {
		return fmt.Errorf("failed to warm tenants: %w", err)
	}
	a.Logger.WithField("tenants", len(ids)).Info("tenant registry warmed")
	return nil
}

// HealthChecker returns the probes for the configured backends. Postgres
// is required, Redis is optional because cache failures degrade to misses.
func (a *App) HealthChecker(version string) *observability.HealthChecker {
	var deps []observability.Dependency
	if a.Conns != nil {
		deps = append(deps, observability.Dependency{Name: "postgres", Pinger: a.Conns})
	}
	if a.Redis != nil {
		deps = append(deps, observability.Dependency{Name: "redis", Pinger: a.Redis, Optional: true})
	}
	return observability.NewHealthChecker(version, deps...)
}

// Close releases every opened backend
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
