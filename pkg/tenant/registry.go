package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/agentmitra/tenancy/pkg/cache"
	"github.com/agentmitra/tenancy/pkg/observability"
)

// ContextKey is the logical key of the tenant context in the shared cache
const ContextKey = "registry:context"

// InvalidationChannel is appended to the cache namespace to name the pub/sub
// channel carrying tenant invalidations.
const InvalidationChannel = ":tenant-invalidations"

// RegistryOptions configures a Registry
type RegistryOptions struct {
	// TTL bounds staleness in both tiers. Default 5 minutes.
	TTL time.Duration
	// Size bounds the number of tenants held in process. Default 1024.
	Size int
	// WarmConcurrency bounds parallel loads in Warm. Default 8.
	WarmConcurrency int
	Clock           clockwork.Clock
	Logger          *observability.Logger
	Metrics         *observability.Metrics
}

type localEntry struct {
	ctx       *Context
	expiresAt time.Time
}

// Registry resolves tenant ids through an in-process tier, the shared
// tenant-scoped cache and finally the Store.
type Registry struct {
	store   Store
	shared  *cache.Cache
	local   *lru.LRU[string, localEntry]
	ttl     time.Duration
	warmN   int
	clock   clockwork.Clock
	logger  *observability.Logger
	metrics *observability.Metrics

	mu          sync.Mutex
	generations map[string]uint64
	bypassUntil map[string]time.Time
}

// NewRegistry creates a registry. shared may be nil to run with the
// in-process tier only.
func NewRegistry(store Store, shared *cache.Cache, opts RegistryOptions) *Registry {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.Size <= 0 {
		opts.Size = 1024
	}
	if opts.WarmConcurrency <= 0 {
		opts.WarmConcurrency = 8
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	return &Registry{
		store:       store,
		shared:      shared,
		local:       lru.NewLRU[string, localEntry](opts.Size, nil, opts.TTL),
		ttl:         opts.TTL,
		warmN:       opts.WarmConcurrency,
		clock:       opts.Clock,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		generations: make(map[string]uint64),
		bypassUntil: make(map[string]time.Time),
	}
}

// Resolve returns the context of a serviceable tenant. It fails with
// ErrNotFound for unknown tenants and ErrInactive for tenants that exist but
// cannot run work.
func (r *Registry) Resolve(ctx context.Context, tenantID string) (*Context, error) {
	tc, err := r.Lookup(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !tc.Serviceable(r.clock.Now()) {
		return nil, &InactiveError{TenantID: tenantID, Status: tc.Tenant.Status}
	}
	return tc, nil
}

// Lookup returns the context of a tenant whatever its status.
func (r *Registry) Lookup(ctx context.Context, tenantID string) (_ *Context, err error) {
	if tenantID == "" {
		return nil, &NotFoundError{TenantID: tenantID}
	}

	ctx, span := observability.StartSpan(ctx, "tenant.Registry.Lookup", tenantID)
	defer func() { observability.EndSpan(span, err) }()

	now := r.clock.Now()
	if e, ok := r.local.Get(tenantID); ok && now.Before(e.expiresAt) {
		r.metrics.RecordRegistryLookup("l1", "hit")
		return e.ctx, nil
	}

	gen, useShared := r.snapshot(tenantID, now)

	if useShared {
		var tc Context
		found, err := r.shared.Get(ctx, tenantID, ContextKey, &tc)
		if err != nil {
			return nil, err
		}
		if found {
			r.metrics.RecordRegistryLookup("l2", "hit")
			r.storeLocal(tenantID, gen, &tc)
			return &tc, nil
		}
	}

	t, err := r.store.GetTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.metrics.RecordRegistryLookup("store", "not_found")
			return nil, &NotFoundError{TenantID: tenantID}
		}
		r.metrics.RecordRegistryLookup("store", "error")
		return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}
	entries, err := r.store.GetConfig(ctx, tenantID)
	if err != nil {
		r.metrics.RecordRegistryLookup("store", "error")
		return nil, fmt.Errorf("failed to load config for tenant %s: %w", tenantID, err)
	}
	r.metrics.RecordRegistryLookup("store", "loaded")

	tc := NewContext(*t, entries, now)
	if r.storeLocal(tenantID, gen, tc) && useShared {
		if err := r.shared.Set(ctx, tenantID, ContextKey, tc, r.ttl); err != nil {
			return nil, err
		}
		// An invalidation may have landed between the generation check and
		// the write; take our write back out so the shared tier is not stale.
		if r.generation(tenantID) != gen {
			_ = r.shared.Purge(ctx, tenantID, ContextKey)
		}
	}

	r.logger.WithTenant(tenantID).Debug("tenant context loaded from store")
	return tc, nil
}

// snapshot returns the tenant's generation and whether the shared tier may be read.
func (r *Registry) snapshot(tenantID string, now time.Time) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	useShared := r.shared != nil
	if until, ok := r.bypassUntil[tenantID]; ok {
		if now.Before(until) {
			useShared = false
		} else {
			delete(r.bypassUntil, tenantID)
		}
	}
	return r.generations[tenantID], useShared
}

func (r *Registry) generation(tenantID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[tenantID]
}

// storeLocal caches tc unless the tenant was invalidated since gen was read.
func (r *Registry) storeLocal(tenantID string, gen uint64, tc *Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generations[tenantID] != gen {
		return false
	}
	r.local.Add(tenantID, localEntry{ctx: tc, expiresAt: r.clock.Now().Add(r.ttl)})
	return true
}

// invalidateLocal drops the in-process entry and fences in-flight loads.
func (r *Registry) invalidateLocal(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generations[tenantID]++
	r.local.Remove(tenantID)
}

// Invalidate purges the tenant from both tiers and notifies other processes.
// It returns an error when the shared tier could not be purged; the registry
// then ignores the shared tier for this tenant for one TTL window.
func (r *Registry) Invalidate(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return &NotFoundError{TenantID: tenantID}
	}
	r.invalidateLocal(tenantID)

	if r.shared == nil {
		r.metrics.RecordInvalidation("local", "ok")
		return nil
	}

	var purgeErr error
	if err := r.shared.Purge(ctx, tenantID, ContextKey); err != nil {
		r.mu.Lock()
		r.bypassUntil[tenantID] = r.clock.Now().Add(r.ttl)
		r.mu.Unlock()
		purgeErr = fmt.Errorf("failed to purge shared tenant context for %s: %w", tenantID, err)
		r.metrics.RecordInvalidation("local", "shared_failed")
		r.logger.WithTenant(tenantID).WithError(err).Warn("shared cache purge failed, bypassing shared tier")
	} else {
		r.metrics.RecordInvalidation("local", "ok")
	}

	if b, ok := r.shared.Transport().(cache.Broadcaster); ok {
		if err := b.Publish(ctx, r.channel(), tenantID); err != nil {
			r.logger.WithTenant(tenantID).WithError(err).Warn("failed to broadcast tenant invalidation")
		}
	}

	return purgeErr
}

func (r *Registry) channel() string {
	return r.shared.Namespace() + InvalidationChannel
}

// Listen applies invalidations broadcast by other processes until ctx is
// done. It returns immediately when the shared transport cannot broadcast.
func (r *Registry) Listen(ctx context.Context) error {
	if r.shared == nil {
		return nil
	}
	b, ok := r.shared.Transport().(cache.Broadcaster)
	if !ok {
		return nil
	}
	return b.Subscribe(ctx, r.channel(), func(tenantID string) {
		if tenantID == "" {
			return
		}
		r.invalidateLocal(tenantID)
		r.metrics.RecordInvalidation("remote", "ok")
		r.logger.WithTenant(tenantID).Debug("applied remote tenant invalidation")
	})
}

// Warm loads several tenants concurrently. Unknown tenants are skipped;
// other failures abort the warm-up.
func (r *Registry) Warm(ctx context.Context, tenantIDs ...string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.warmN)
	for _, id := range tenantIDs {
		id := id
		g.Go(func() error {
			if _, err := r.Lookup(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Len returns the number of tenants held in process
func (r *Registry) Len() int {
	return r.local.Len()
}
