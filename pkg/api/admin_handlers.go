package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/agentmitra/tenancy/pkg/audit"
	"github.com/agentmitra/tenancy/pkg/cache"
	"github.com/agentmitra/tenancy/pkg/execution"
	"github.com/agentmitra/tenancy/pkg/httputil"
	"github.com/agentmitra/tenancy/pkg/rbac"
	"github.com/agentmitra/tenancy/pkg/tenant"
)

// StatusRequest is the body of PUT /admin/tenants/{tenant_id}/status
type StatusRequest struct {
	Status tenant.Status `json:"status"`
}

// GrantRequest is the body of PUT /admin/tenants/{tenant_id}/grants/{user_id}
type GrantRequest struct {
	Role        rbac.Role `json:"role"`
	Permissions []string  `json:"permissions,omitempty"`
	IsPrimary   bool      `json:"is_primary"`
}

// ClearResponse reports how many cache entries a clear removed
type ClearResponse struct {
	TenantID string `json:"tenant_id"`
	Cleared  int    `json:"cleared"`
}

// CacheStatsResponse is the body of GET /admin/cache/stats
type CacheStatsResponse struct {
	Shared        cache.Stats `json:"shared"`
	TenantsCached int         `json:"tenants_cached"`
	KeysCached    int         `json:"keys_cached"`
}

// AdminActorHeader names the operator behind an admin request in the audit trail
const AdminActorHeader = "X-Admin-Actor"

// registerAdminRoutes registers operator routes on the /admin subrouter
func (s *Server) registerAdminRoutes(router *mux.Router) {
	tenantPath := "/tenants/{" + execution.TenantVar + "}"

	if s.opts.Tenants != nil {
		router.HandleFunc(tenantPath, s.getTenant).Methods(http.MethodGet)
		router.HandleFunc(tenantPath+"/invalidate", s.invalidateTenant).Methods(http.MethodPost)
	}
	if s.opts.TenantAdmin != nil {
		router.HandleFunc(tenantPath+"/status", s.setTenantStatus).Methods(http.MethodPut)
		router.HandleFunc(tenantPath+"/config", s.setTenantConfig).Methods(http.MethodPut)
	}
	if s.opts.GrantAdmin != nil {
		router.HandleFunc(tenantPath+"/grants/{user_id}", s.putGrant).Methods(http.MethodPut)
		router.HandleFunc(tenantPath+"/grants/{user_id}", s.revokeGrant).Methods(http.MethodDelete)
	}
	if s.opts.Envelope != nil {
		router.HandleFunc(tenantPath+"/rotate-key", s.rotateKey).Methods(http.MethodPost)
		router.HandleFunc(tenantPath+"/encryption", s.encryptionStatus).Methods(http.MethodGet)
	}
	if s.opts.Cache != nil {
		router.HandleFunc(tenantPath+"/cache", s.clearTenantCache).Methods(http.MethodDelete)
		router.HandleFunc("/cache/stats", s.cacheStats).Methods(http.MethodGet)
	}
	if s.opts.AuditLog != nil {
		router.HandleFunc("/audit", s.searchAudit).Methods(http.MethodGet)
		router.HandleFunc(tenantPath+"/audit", s.searchAudit).Methods(http.MethodGet)
	}
}

// record adds an admin mutation to the audit trail
func (s *Server) record(r *http.Request, action audit.Action, tenantID string, err error, edit func(e *audit.Event)) {
	if s.opts.Trail == nil {
		return
	}
	e := audit.NewEvent(r.Context(), r, action, tenantID, err)
	if e.ActorID == "" {
		e.ActorID = r.Header.Get(AdminActorHeader)
	}
	if e.ActorID == "" {
		e.ActorID = "admin"
	}
	if edit != nil {
		edit(e)
	}
	s.opts.Trail.Record(r.Context(), e)
}

// getTenant returns the resolved context of a tenant, whatever its status
func (s *Server) getTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, execution.TenantVar)
	if !ok {
		return
	}
	tc, err := s.opts.Tenants.Lookup(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, r, tenantID, err)
		return
	}
	_ = httputil.WriteSuccess(w, tc)
}

func (s *Server) invalidateTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, execution.TenantVar)
	if !ok {
		return
	}
	err := s.opts.Tenants.Invalidate(r.Context(), tenantID)
	s.record(r, audit.ActionTenantInvalidated, tenantID, err, nil)
	if err != nil {
		s.writeError(w, r, tenantID, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) setTenantStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, execution.TenantVar)
	if !ok {
		return
	}
	var req StatusRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	err := s.opts.TenantAdmin.SetStatus(r.Context(), tenantID, req.Status)
	s.record(r, audit.ActionTenantStatusChanged, tenantID, err, func(e *audit.Event) {
		e.Details["status"] = string(req.Status)
	})
	if err != nil {
		s.writeError(w, r, tenantID, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) setTenantConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, execution.TenantVar)
	if !ok {
		return
	}
	var entry tenant.ConfigEntry
	if !httputil.ParseJSONOrError(w, r, &entry) {
		return
	}
	err := s.opts.TenantAdmin.SetConfig(r.Context(), tenantID, entry)
	s.record(r, audit.ActionTenantConfigChanged, tenantID, err, func(e *audit.Event) {
		e.Details["key"] = entry.Key
		e.Details["type"] = string(entry.Type)
	})
	if err != nil {
		s.writeError(w, r, tenantID, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) putGrant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, execution.TenantVar)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}
	var req GrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	err := s.opts.GrantAdmin.Grant(r.Context(), rbac.Grant{
		TenantID:    tenantID,
		UserID:      userID,
		Role:        req.Role,
		Permissions: req.Permissions,
		Active:      true,
		IsPrimary:   req.IsPrimary,
	})
	s.record(r, audit.ActionRoleAssigned, tenantID, err, func(e *audit.Event) {
		e.TargetUserID = userID
		e.Details["role"] = string(req.Role)
		if len(req.Permissions) > 0 {
			e.Details["permissions"] = req.Permissions
		}
	})
	if err != nil {
		s.writeError(w, r, tenantID, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) revokeGrant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, execution.TenantVar)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}
	err := s.opts.GrantAdmin.Revoke(r.Context(), tenantID, userID)
	s.record(r, audit.ActionRoleRemoved, tenantID, err, func(e *audit.Event) {
		e.TargetUserID = userID
	})
	if err != nil {
		s.writeError(w, r, tenantID, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) rotateKey(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, execution.TenantVar)
	if !ok {
		return
	}
	s.opts.Envelope.Rotate(r.Context(), tenantID)
	s.record(r, audit.ActionKeyRotated, tenantID, nil, nil)
	httputil.WriteNoContent(w)
}

func (s *Server) encryptionStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, execution.TenantVar)
	if !ok {
		return
	}
	st, err := s.opts.Envelope.Status(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, r, tenantID, err)
		return
	}
	_ = httputil.WriteSuccess(w, st)
}

func (s *Server) clearTenantCache(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, execution.TenantVar)
	if !ok {
		return
	}
	n, err := s.opts.Cache.Clear(r.Context(), tenantID)
	s.record(r, audit.ActionCacheCleared, tenantID, err, func(e *audit.Event) {
		e.Details["cleared"] = n
	})
	if err != nil {
		s.writeError(w, r, tenantID, err)
		return
	}
	_ = httputil.WriteSuccess(w, ClearResponse{TenantID: tenantID, Cleared: n})
}

func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	resp := CacheStatsResponse{Shared: s.opts.Cache.Stats()}
	if s.opts.Tenants != nil {
		resp.TenantsCached = s.opts.Tenants.Len()
	}
	if s.opts.Envelope != nil {
		resp.KeysCached = s.opts.Envelope.CachedKeys()
	}
	_ = httputil.WriteSuccess(w, resp)
}

// searchAudit lists audit events, newest first. Query parameters: action
// (repeatable), actor, since (RFC 3339), limit and format (json, ndjson,
// csv). The tenant comes from the route when present.
func (s *Server) searchAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.SearchFilter{
		TenantID: mux.Vars(r)[execution.TenantVar],
		ActorID:  q.Get("actor"),
	}
	for _, raw := range q["action"] {
		a, err := audit.ParseAction(raw)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		filter.Actions = append(filter.Actions, a)
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = &since
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			httputil.WriteBadRequest(w, "limit must be between 1 and 1000")
			return
		}
		filter.Limit = n
	}
	format, err := audit.ParseExportFormat(q.Get("format"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := s.opts.AuditLog.Search(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, filter.TenantID, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	if err := audit.Export(w, events, format); err != nil {
		s.logger.WithError(err).Error("failed to write audit export")
	}
}
