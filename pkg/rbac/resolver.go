package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentmitra/tenancy/pkg/cache"
	"github.com/agentmitra/tenancy/pkg/observability"
)

// grantKeyPrefix prefixes memoized grants in the tenant-scoped cache
const grantKeyPrefix = "grant:"

// GrantStore reads grants from the system of record
type GrantStore interface {
	// GetGrant returns nil, nil when the user has no grant in the tenant.
	GetGrant(ctx context.Context, tenantID, userID string) (*Grant, error)
	// ListGrants returns every grant of the user, active or not.
	ListGrants(ctx context.Context, userID string) ([]Grant, error)
}

// grantMemo lets "no grant" be memoized as well
type grantMemo struct {
	Grant *Grant `json:"grant"`
}

// ResolverOptions configures a Resolver
type ResolverOptions struct {
	// GrantTTL bounds how long a memoized grant is served. Default 1 minute.
	GrantTTL time.Duration
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// Resolver loads grants and authorizes operations against them
type Resolver struct {
	store   GrantStore
	cache   *cache.Cache
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewResolver creates a resolver. c may be nil to disable grant memoization.
func NewResolver(store GrantStore, c *cache.Cache, opts ResolverOptions) *Resolver {
	if opts.GrantTTL <= 0 {
		opts.GrantTTL = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	return &Resolver{
		store:   store,
		cache:   c,
		ttl:     opts.GrantTTL,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// GetGrant returns the user's grant in the tenant, or nil when there is none
func (r *Resolver) GetGrant(ctx context.Context, tenantID, userID string) (*Grant, error) {
	if tenantID == "" || userID == "" {
		return nil, nil
	}

	load := func(ctx context.Context) (grantMemo, error) {
		g, err := r.store.GetGrant(ctx, tenantID, userID)
		if err != nil {
			return grantMemo{}, fmt.Errorf("failed to load grant of user %s in tenant %s: %w", userID, tenantID, err)
		}
		return grantMemo{Grant: g}, nil
	}

	if r.cache == nil {
		memo, err := load(ctx)
		return memo.Grant, err
	}

	memo, err := cache.GetOrCompute(ctx, r.cache, tenantID, grantKeyPrefix+userID, r.ttl, load)
	if errors.Is(err, cache.ErrInvalidKey) {
		// ids the cache cannot key are still valid store ids
		memo, err = load(ctx)
	}
	if err != nil {
		return nil, err
	}
	return memo.Grant, nil
}

// Authorize reports whether the user may perform operation on resource
func (r *Resolver) Authorize(ctx context.Context, tenantID, userID, operation, resource string) (bool, error) {
	grant, err := r.GetGrant(ctx, tenantID, userID)
	if err != nil {
		return false, err
	}
	allowed, source := EvaluateWithSource(grant, operation, resource)
	r.metrics.RecordAuthorization(allowed, string(source))
	return allowed, nil
}

// Require is Authorize returning a *DeniedError when the operation is not allowed
func (r *Resolver) Require(ctx context.Context, tenantID, userID, operation, resource string) error {
	allowed, err := r.Authorize(ctx, tenantID, userID, operation, resource)
	if err != nil {
		return err
	}
	if !allowed {
		return &DeniedError{TenantID: tenantID, UserID: userID, Operation: operation, Resource: resource}
	}
	return nil
}

// TenantsForUser returns the user's active grants, one per tenant
func (r *Resolver) TenantsForUser(ctx context.Context, userID string) ([]Grant, error) {
	grants, err := r.store.ListGrants(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants of user %s: %w", userID, err)
	}
	active := make([]Grant, 0, len(grants))
	for _, g := range grants {
		if g.Active {
			active = append(active, g)
		}
	}
	return active, nil
}

// forget drops the memoized grant and reports whether it is certainly gone
func (r *Resolver) forget(ctx context.Context, tenantID, userID string) error {
	if r.cache == nil {
		return nil
	}
	err := r.cache.Purge(ctx, tenantID, grantKeyPrefix+userID)
	if errors.Is(err, cache.ErrInvalidKey) {
		return nil
	}
	return err
}
