package tenant

import (
	"context"
	"fmt"
	"time"

	"github.com/agentmitra/tenancy/pkg/cache"
	"github.com/agentmitra/tenancy/pkg/observability"
)

// UsageCounter reports the current consumption of a limited resource
type UsageCounter interface {
	Usage(ctx context.Context, tenantID, resource string) (int64, error)
}

// UsageFunc adapts a function to UsageCounter
type UsageFunc func(ctx context.Context, tenantID, resource string) (int64, error)

// Usage calls f
func (f UsageFunc) Usage(ctx context.Context, tenantID, resource string) (int64, error) {
	return f(ctx, tenantID, resource)
}

// usageKeyPrefix prefixes memoized usage values in the scoped cache
const usageKeyPrefix = "usage:"

// Limiter checks operations against tenant limits
type Limiter struct {
	registry *Registry
	counter  UsageCounter
	cache    *cache.Cache
	ttl      time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewLimiter creates a limiter. Usage values are memoized in c for ttl
// (default 1 hour); c may be nil to always ask the counter.
func NewLimiter(registry *Registry, counter UsageCounter, c *cache.Cache, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Limiter {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Limiter{
		registry: registry,
		counter:  counter,
		cache:    c,
		ttl:      ttl,
		logger:   logger,
		metrics:  metrics,
	}
}

// Check returns nil when amount more of resource fits within the tenant's
// limit. Unknown resources and zero limits are unlimited. When usage cannot
// be determined the check fails.
func (l *Limiter) Check(ctx context.Context, tenantID, resource string, amount int64) error {
	tc, err := l.registry.Lookup(ctx, tenantID)
	if err != nil {
		return err
	}

	limit, limited := tc.Limits().For(resource)
	if !limited {
		l.metrics.RecordLimitCheck(resource, "unlimited")
		return nil
	}

	current, err := l.usage(ctx, tenantID, resource)
	if err != nil {
		l.metrics.RecordLimitCheck(resource, "error")
		l.logger.WithTenant(tenantID).WithField("resource", resource).WithError(err).Error("usage lookup failed, denying")
		return fmt.Errorf("failed to determine %s usage for tenant %s: %w", resource, tenantID, err)
	}

	if current+amount > limit {
		l.metrics.RecordLimitCheck(resource, "exceeded")
		return &LimitExceededError{
			TenantID:  tenantID,
			Resource:  resource,
			Current:   current,
			Requested: amount,
			Limit:     limit,
		}
	}

	l.metrics.RecordLimitCheck(resource, "ok")
	return nil
}

func (l *Limiter) usage(ctx context.Context, tenantID, resource string) (int64, error) {
	compute := func(ctx context.Context) (int64, error) {
		return l.counter.Usage(ctx, tenantID, resource)
	}
	if l.cache == nil {
		return compute(ctx)
	}
	return cache.GetOrCompute(ctx, l.cache, tenantID, usageKeyPrefix+resource, l.ttl, compute)
}

// Reset drops the memoized usage of resource so the next Check recounts it
func (l *Limiter) Reset(ctx context.Context, tenantID, resource string) error {
	if l.cache == nil {
		return nil
	}
	return l.cache.Invalidate(ctx, tenantID, usageKeyPrefix+resource)
}
