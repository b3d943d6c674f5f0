// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the module must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/agentmitra/tenancy/pkg/contextkeys"
//	ctx = contextkeys.WithRequestID(ctx, id)
//	id := contextkeys.GetRequestID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// TenantBindingKey contains *execution.Binding
	// Set by: execution.Runner.Run (pkg/execution/runner.go)
	// Required by: anything that needs the ambient tenant of the running unit of work
	// Type: *execution.Binding
	TenantBindingKey Key = "tenant_binding"

	// RequestIDKey contains request ID string
	// Set by: callers at the edge (ops server, CLI)
	// Used by: Logger
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains user ID string
	// Set by: callers after authentication
	// Used by: Logger
	// Type: string
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: binaries when wiring components
	// Used by: observability.FromContext
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// TenantScoped is implemented by values stored under TenantBindingKey.
// It lets lower layers read the ambient tenant without importing the
// execution package.
type TenantScoped interface {
	// ScopedTenantID returns the bound tenant id and whether the binding is still live.
	ScopedTenantID() (string, bool)
	// ScopedRunID returns the id of the unit of work that owns the binding.
	ScopedRunID() string
}

// GetTenantID returns the tenant bound to ctx, or "" when there is no live binding.
func GetTenantID(ctx context.Context) string {
	if b, ok := ctx.Value(TenantBindingKey).(TenantScoped); ok {
		if id, live := b.ScopedTenantID(); live {
			return id
		}
	}
	return ""
}

// GetRunID returns the run id of the live binding in ctx.
func GetRunID(ctx context.Context) string {
	if b, ok := ctx.Value(TenantBindingKey).(TenantScoped); ok {
		if _, live := b.ScopedTenantID(); live {
			return b.ScopedRunID()
		}
	}
	return ""
}
