// Package ratelimit enforces the per-tenant API call quota.
//
// # Overview
//
// Every tenant carries an api_calls_per_hour limit. The Limiter counts calls
// in fixed windows keyed by tenant id. The count lives in a Counter: Redis
// when the deployment has one, so all instances share the same window,
// otherwise an in-process MemoryCounter. A zero limit is unlimited.
//
// When the window is not one hour the hourly limit is scaled to the window,
// rounding up so no tenant drops to zero.
//
// # HTTP
//
// Middleware must run inside an execution binding. It reads the bound
// tenant's limits, sets the X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset headers, and answers 429 with Retry-After once the
// window is spent:
//
//	h := execution.Middleware(runner, "read", "policies")(
//		ratelimit.Middleware(limiter)(handler))
//
// # Counter Failures
//
// With FailOpen set, a counter error admits the request and is logged.
// Otherwise the request is refused with 503.
package ratelimit
