// Package cache provides the tenant-scoped key-value cache.
//
// Every entry lives under a physical key built from the cache namespace, the
// tenant id and a logical key:
//
//	<namespace>|<tenantID>|<logicalKey>
//
// The delimiter is rejected inside tenant ids and logical keys so two tenants
// can never produce the same physical key.
//
// # Failure semantics
//
// Caching is an optimization. When the transport (Redis, memory) fails, Get
// reports a miss and Set, Invalidate and InvalidatePrefix become no-ops. The
// failure is logged at debug level and counted in Stats. Only boundary
// errors (ErrInvalidKey, values that cannot be JSON encoded) are returned.
// Purge is the exception: callers that must know whether an entry is gone,
// such as tenant invalidation, use it and receive ErrUnavailable.
//
// # Usage
//
//	c := cache.New(transport, cache.Options{Namespace: "tenancy", DefaultTTL: 5 * time.Minute})
//	quote, err := cache.GetOrCompute(ctx, c, tenantID, "quote:42", time.Minute,
//		func(ctx context.Context) (Quote, error) { return loadQuote(ctx, 42) })
//
// GetOrCompute does not deduplicate concurrent misses: every caller that
// misses computes, and the last writer wins.
package cache
