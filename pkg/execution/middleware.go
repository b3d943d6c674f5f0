package execution

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agentmitra/tenancy/pkg/contextkeys"
	"github.com/agentmitra/tenancy/pkg/rbac"
	"github.com/agentmitra/tenancy/pkg/tenant"
)

const (
	// TenantVar is the route variable holding the tenant id
	TenantVar = "tenant_id"
	// TenantHeader carries the tenant id when the route has none
	TenantHeader = "X-Tenant-ID"
	// UserHeader carries the acting user id asserted by an authenticated
	// caller; it is only read behind TrustUserHeader
	UserHeader = "X-User-ID"
)

// TrustUserHeader copies UserHeader into the request context as the acting
// user. Mount it only behind a hop that has authenticated the caller, such
// as a service bearer token; a user already in the context wins.
func TrustUserHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contextkeys.GetUserID(r.Context()) == "" {
			if user := r.Header.Get(UserHeader); user != "" {
				r = r.WithContext(contextkeys.WithUserID(r.Context(), user))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Middleware runs each request through runner for operation on resource.
// The tenant comes from the route variable or TenantHeader. The user comes
// only from the request context, set by authentication middleware or
// TrustUserHeader; without one the request fails with ErrUnauthenticated.
// Requests that fail before the handler runs get a JSON error with
// StatusCode(err).
func Middleware(runner *Runner, operation, resource string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := mux.Vars(r)[TenantVar]
			if tenantID == "" {
				tenantID = r.Header.Get(TenantHeader)
			}
			userID := contextkeys.GetUserID(r.Context())
			if userID == "" {
				WriteError(w, tenantID, ErrUnauthenticated)
				return
			}

			started := false
			err := runner.Run(r.Context(), Request{
				TenantID:  tenantID,
				UserID:    userID,
				Operation: operation,
				Resource:  resource,
			}, func(ctx context.Context) error {
				started = true
				next.ServeHTTP(w, r.WithContext(ctx))
				return nil
			})
			if err != nil && !started {
				WriteError(w, tenantID, err)
			}
		})
	}
}

// StatusCode maps run failures to HTTP status codes
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, tenant.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tenant.ErrInactive), errors.Is(err, rbac.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrCrossTenant), errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error    string `json:"error"`
	TenantID string `json:"tenant_id,omitempty"`
}

// WriteError writes err as a JSON body with StatusCode(err)
func WriteError(w http.ResponseWriter, tenantID string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusCode(err))
	_ = json.NewEncoder(w).Encode(errorBody{Error: err.Error(), TenantID: tenantID})
}
