// Package tenant resolves tenant ids to their status, limits, configuration
// and feature set.
//
// # Registry
//
// Registry.Resolve is cache-first over two tiers:
//
//  1. an in-process expirable LRU (default TTL 5 minutes)
//  2. the shared tenant-scoped cache, under the logical key "registry:context"
//
// A miss at both tiers reads the Store and populates both. Resolve fails with
// ErrNotFound for unknown tenants and ErrInactive for tenants that cannot be
// served (suspended, inactive, cancelled, or an expired trial). Lookup returns
// the context regardless of status.
//
// Registry.Invalidate purges both tiers and bumps a per-tenant generation so
// a load that started before the invalidation cannot repopulate the old value.
// When the shared tier cannot be purged, Invalidate returns the error and the
// registry stops reading the shared tier for that tenant for one TTL window.
// Invalidations are broadcast to other processes when the shared transport
// supports it; run Registry.Listen to apply them.
//
// # Features
//
// The feature set is the plan's base list unioned with the "enabled_features"
// config override, deduplicated and sorted:
//
//	basic:        user_management, policy_management, basic_reporting
//	professional: user_management, policy_management, advanced_reporting, campaigns, api_access
//	enterprise:   professional + white_label, custom_integrations
//
// # Admin and limits
//
// Admin writes status and config changes through a Writer and invalidates the
// registry before returning. Limiter checks users, storage_gb and
// api_calls_per_hour against the tenant limits and fails closed when usage
// cannot be determined.
package tenant
