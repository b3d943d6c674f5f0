package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/agentmitra/tenancy/pkg/envelope"
	"github.com/agentmitra/tenancy/pkg/execution"
	"github.com/agentmitra/tenancy/pkg/httputil"
	"github.com/agentmitra/tenancy/pkg/ratelimit"
	"github.com/agentmitra/tenancy/pkg/tenant"
)

// ContextResponse describes the bound tenant and caller
type ContextResponse struct {
	RunID  string          `json:"run_id"`
	UserID string          `json:"user_id"`
	Tenant *tenant.Context `json:"tenant"`
}

// LimitResponse is the body of a successful limit check
type LimitResponse struct {
	Resource string `json:"resource"`
	Amount   int64  `json:"amount"`
	Allowed  bool   `json:"allowed"`
}

// registerTenantRoutes registers routes that run inside a tenant binding
func (s *Server) registerTenantRoutes(router *mux.Router) {
	scoped := func(operation, resource string, h http.HandlerFunc) http.Handler {
		var inner http.Handler = h
		if s.opts.RateLimiter != nil {
			inner = ratelimit.Middleware(s.opts.RateLimiter)(inner)
		}
		return execution.Middleware(s.opts.Runner, operation, resource)(inner)
	}

	router.Handle("/context", scoped("read", "policies", s.tenantContext)).Methods(http.MethodGet)
	if s.opts.Limiter != nil {
		router.Handle("/limits/{resource}", scoped("read", "policies", s.checkLimit)).Methods(http.MethodGet)
	}
	if s.opts.Envelope != nil {
		router.Handle("/records/encrypt", scoped("update", "customers", s.encryptRecord)).Methods(http.MethodPost)
		router.Handle("/records/decrypt", scoped("read", "customers", s.decryptRecord)).Methods(http.MethodPost)
	}
}

func (s *Server) tenantContext(w http.ResponseWriter, r *http.Request) {
	b, _ := execution.FromContext(r.Context())
	_ = httputil.WriteSuccess(w, ContextResponse{
		RunID:  b.RunID(),
		UserID: b.UserID(),
		Tenant: b.Tenant(),
	})
}

// checkLimit reports whether ?amount= more of a resource fits the tenant's
// limit. Amount defaults to 1.
func (s *Server) checkLimit(w http.ResponseWriter, r *http.Request) {
	tenantID := execution.TenantID(r.Context())
	resource, ok := httputil.ParsePathStringOrError(w, r, "resource")
	if !ok {
		return
	}
	amount := int64(1)
	if raw := r.URL.Query().Get("amount"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			httputil.WriteBadRequest(w, "amount must be a non-negative integer")
			return
		}
		amount = n
	}
	if err := s.opts.Limiter.Check(r.Context(), tenantID, resource, amount); err != nil {
		s.writeError(w, r, tenantID, err)
		return
	}
	_ = httputil.WriteSuccess(w, LimitResponse{Resource: resource, Amount: amount, Allowed: true})
}

func (s *Server) encryptRecord(w http.ResponseWriter, r *http.Request) {
	tenantID := execution.TenantID(r.Context())
	var rec envelope.Record
	if !httputil.ParseJSONOrError(w, r, &rec) {
		return
	}
	out, err := s.opts.Envelope.EncryptRecord(r.Context(), tenantID, rec)
	if err != nil {
		s.writeError(w, r, tenantID, err)
		return
	}
	_ = httputil.WriteSuccess(w, out)
}

func (s *Server) decryptRecord(w http.ResponseWriter, r *http.Request) {
	tenantID := execution.TenantID(r.Context())
	var rec envelope.Record
	if !httputil.ParseJSONOrError(w, r, &rec) {
		return
	}
	out, err := s.opts.Envelope.DecryptRecord(r.Context(), tenantID, rec)
	if err != nil {
		s.writeError(w, r, tenantID, err)
		return
	}
	_ = httputil.WriteSuccess(w, out)
}
