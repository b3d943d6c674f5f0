// Package api serves the tenancy core over HTTP.
//
// # Overview
//
// The server exposes three groups of routes on a gorilla/mux router:
//
//   - Probes and metrics: /healthz, /readyz and /metrics
//   - Operator routes under /admin, guarded by a bearer token
//   - Tenant-scoped routes under /v1/tenants/{tenant_id}, each run through
//     an execution.Runner so the handler only executes once the tenant is
//     resolved and the acting user is authorized
//
// # Admin Routes
//
//	GET    /admin/tenants/{tenant_id}                   resolved tenant context
//	POST   /admin/tenants/{tenant_id}/invalidate        drop cached tenant state
//	PUT    /admin/tenants/{tenant_id}/status            {"status": "suspended"}
//	PUT    /admin/tenants/{tenant_id}/config            {"key", "type", "value"}
//	PUT    /admin/tenants/{tenant_id}/grants/{user_id}  {"role", "permissions"}
//	DELETE /admin/tenants/{tenant_id}/grants/{user_id}
//	POST   /admin/tenants/{tenant_id}/rotate-key
//	GET    /admin/tenants/{tenant_id}/encryption
//	DELETE /admin/tenants/{tenant_id}/cache
//	GET    /admin/cache/stats
//	GET    /admin/audit                                 ?action=&actor=&since=&limit=&format=
//	GET    /admin/tenants/{tenant_id}/audit
//
// Admin routes are only mounted when an admin token is configured. Every
// mutation is recorded in the audit trail with the X-Admin-Actor header as
// actor.
//
// # Tenant Routes
//
//	GET  /v1/tenants/{tenant_id}/context            read:policies
//	GET  /v1/tenants/{tenant_id}/limits/{resource}  read:policies
//	POST /v1/tenants/{tenant_id}/records/encrypt    update:customers
//	POST /v1/tenants/{tenant_id}/records/decrypt    read:customers
//
// The acting user is taken from the request context only. With a service
// token configured, /v1 requires it as a bearer token and its holders assert
// the user with X-User-ID. Without one, X-User-ID is ignored unless
// TrustUserHeader is set, and users must come from upstream middleware.
//
// Tenant routes count against the tenant's api_calls_per_hour limit when a
// RateLimiter is configured.
//
// # Usage Example
//
//	srv := api.NewServer(api.Options{
//		Tenants:      app.TenantCache,
//		Runner:       app.Runner,
//		AdminToken:   cfg.Server.AdminToken,
//		ServiceToken: cfg.Server.ServiceToken,
//		Logger:       logger,
//	})
//	http.ListenAndServe(":9090", srv)
package api
