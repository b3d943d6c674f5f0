package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/agentmitra/tenancy/pkg/observability"
)

// Options configures a Cache
type Options struct {
	// Namespace prefixes every physical key. Defaults to DefaultNamespace.
	Namespace string
	// DefaultTTL applies when Set is called with ttl <= 0.
	DefaultTTL time.Duration
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

// Stats is a snapshot of cache counters
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

// Cache is a tenant-scoped JSON cache over a Transport. Safe for concurrent use.
type Cache struct {
	transport  Transport
	namespace  string
	defaultTTL time.Duration
	logger     *observability.Logger
	metrics    *observability.Metrics

	hits   atomic.Int64
	misses atomic.Int64
	failed atomic.Int64
}

// New creates a cache over transport
func New(transport Transport, opts Options) *Cache {
	if opts.Namespace == "" || validatePart("namespace", opts.Namespace, false) != nil {
		opts.Namespace = DefaultNamespace
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	return &Cache{
		transport:  transport,
		namespace:  opts.Namespace,
		defaultTTL: opts.DefaultTTL,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

// Namespace returns the namespace prefixing every key
func (c *Cache) Namespace() string {
	return c.namespace
}

// DefaultTTL returns the TTL used when none is given
func (c *Cache) DefaultTTL() time.Duration {
	return c.defaultTTL
}

func (c *Cache) transportFailed(op, tenantID, key string, err error) {
	c.failed.Add(1)
	c.metrics.RecordCacheOperation(op, "error")
	c.logger.WithTenant(tenantID).
		WithField("key", key).
		WithField("operation", op).
		WithError(err).
		Debug("cache transport unavailable, degrading")
}

// Get decodes the value stored under key into dest and reports whether it was found.
func (c *Cache) Get(ctx context.Context, tenantID, key string, dest interface{}) (bool, error) {
	pk, err := PhysicalKey(c.namespace, tenantID, key)
	if err != nil {
		return false, err
	}

	data, err := c.transport.Get(ctx, pk)
	if errors.Is(err, ErrMiss) {
		c.misses.Add(1)
		c.metrics.RecordCacheOperation("get", "miss")
		return false, nil
	}
	if err != nil {
		c.transportFailed("get", tenantID, key, err)
		c.misses.Add(1)
		return false, nil
	}

	if err := json.Unmarshal(data, dest); err != nil {
		// corrupt or from an incompatible writer; drop it
		_ = c.transport.Delete(ctx, pk)
		c.misses.Add(1)
		c.metrics.RecordCacheOperation("get", "corrupt")
		c.logger.WithTenant(tenantID).WithField("key", key).WithError(err).Debug("dropping undecodable cache entry")
		return false, nil
	}

	c.hits.Add(1)
	c.metrics.RecordCacheOperation("get", "hit")
	return true, nil
}

// Set stores value under key for ttl (DefaultTTL when ttl <= 0).
func (c *Cache) Set(ctx context.Context, tenantID, key string, value interface{}, ttl time.Duration) error {
	pk, err := PhysicalKey(c.namespace, tenantID, key)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value for %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	if err := c.transport.Set(ctx, pk, data, ttl); err != nil {
		c.transportFailed("set", tenantID, key, err)
		return nil
	}
	c.metrics.RecordCacheOperation("set", "ok")
	return nil
}

// Invalidate removes key. Transport failures are absorbed.
func (c *Cache) Invalidate(ctx context.Context, tenantID, key string) error {
	if err := c.Purge(ctx, tenantID, key); err != nil && !errors.Is(err, ErrUnavailable) {
		return err
	}
	return nil
}

// Purge removes key and reports ErrUnavailable when the transport failed,
// for callers whose correctness depends on the entry being gone.
func (c *Cache) Purge(ctx context.Context, tenantID, key string) error {
	pk, err := PhysicalKey(c.namespace, tenantID, key)
	if err != nil {
		return err
	}
	if err := c.transport.Delete(ctx, pk); err != nil {
		c.transportFailed("delete", tenantID, key, err)
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, key, err)
	}
	c.metrics.RecordCacheOperation("delete", "ok")
	return nil
}

// InvalidatePrefix removes every key of tenantID starting with prefix and
// returns how many were removed. Transport failures report zero.
func (c *Cache) InvalidatePrefix(ctx context.Context, tenantID, prefix string) (int, error) {
	pp, err := PhysicalPrefix(c.namespace, tenantID, prefix)
	if err != nil {
		return 0, err
	}
	n, err := c.transport.DeletePrefix(ctx, pp)
	if err != nil {
		c.transportFailed("delete_prefix", tenantID, prefix, err)
		return 0, nil
	}
	c.metrics.RecordCacheOperation("delete_prefix", "ok")
	return n, nil
}

// Clear removes every key of tenantID
func (c *Cache) Clear(ctx context.Context, tenantID string) (int, error) {
	return c.InvalidatePrefix(ctx, tenantID, "")
}

// InvalidateEntity drops the cached entity "<kind>:<id>" together with all
// cached lists of that kind ("<kind>_list:...").
func (c *Cache) InvalidateEntity(ctx context.Context, tenantID, kind, id string) error {
	if kind == "" || id == "" {
		return fmt.Errorf("%w: entity kind and id required", ErrInvalidKey)
	}
	if err := c.Invalidate(ctx, tenantID, kind+":"+id); err != nil {
		return err
	}
	_, err := c.InvalidatePrefix(ctx, tenantID, kind+"_list:")
	return err
}

// Stats returns a snapshot of the counters
func (c *Cache) Stats() Stats {
	s := Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.failed.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Ping checks the transport when it supports it
func (c *Cache) Ping(ctx context.Context) error {
	if p, ok := c.transport.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Transport returns the underlying transport
func (c *Cache) Transport() Transport {
	return c.transport
}

// GetOrCompute returns the cached value for key or calls compute, stores its
// result for ttl and returns it. Concurrent misses each compute; the last
// writer wins. Compute errors are returned and nothing is stored.
func GetOrCompute[T any](ctx context.Context, c *Cache, tenantID, key string, ttl time.Duration, compute func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	var cached T
	found, err := c.Get(ctx, tenantID, key, &cached)
	if err != nil {
		return zero, err
	}
	if found {
		return cached, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return zero, err
	}
	if err := c.Set(ctx, tenantID, key, value, ttl); err != nil {
		return zero, err
	}
	return value, nil
}
