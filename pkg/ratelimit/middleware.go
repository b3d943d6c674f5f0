package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/agentmitra/tenancy/pkg/execution"
	"github.com/agentmitra/tenancy/pkg/httputil"
)

// ExceededResponse is the body of a 429 answer
type ExceededResponse struct {
	Error      string `json:"error"`
	TenantID   string `json:"tenant_id"`
	RetryAfter int64  `json:"retry_after"`
}

// Middleware enforces the bound tenant's API call quota. Requests without
// an execution binding pass through.
func Middleware(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, ok := execution.FromContext(r.Context())
			if !ok || b.Tenant() == nil {
				next.ServeHTTP(w, r)
				return
			}
			tenantID := b.TenantID()

			d, err := l.Allow(r.Context(), tenantID, b.Tenant().Limits().APIRateLimit)
			if err != nil {
				if d.Allowed {
					next.ServeHTTP(w, r)
					return
				}
				httputil.WriteTenantError(w, http.StatusServiceUnavailable, tenantID, ErrUnavailable)
				return
			}
			if d.Limit == 0 {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))

			if !d.Allowed {
				retry := int64(math.Ceil(d.RetryAfter(l.clock.Now()).Seconds()))
				h.Set("Retry-After", strconv.FormatInt(retry, 10))
				_ = httputil.WriteJSON(w, http.StatusTooManyRequests, ExceededResponse{
					Error:      "rate limit exceeded",
					TenantID:   tenantID,
					RetryAfter: retry,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
