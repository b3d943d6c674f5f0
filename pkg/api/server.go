package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentmitra/tenancy/pkg/audit"
	"github.com/agentmitra/tenancy/pkg/cache"
	"github.com/agentmitra/tenancy/pkg/envelope"
	"github.com/agentmitra/tenancy/pkg/execution"
	"github.com/agentmitra/tenancy/pkg/httputil"
	"github.com/agentmitra/tenancy/pkg/observability"
	"github.com/agentmitra/tenancy/pkg/ratelimit"
	"github.com/agentmitra/tenancy/pkg/rbac"
	"github.com/agentmitra/tenancy/pkg/tenant"
)

// maxBodyBytes caps request bodies on every route
const maxBodyBytes = 1 << 20

// Options wires the server to the tenancy components. Nil components leave
// their routes unmounted.
type Options struct {
	Tenants      *tenant.Registry
	TenantAdmin  *tenant.Admin
	GrantAdmin   *rbac.Admin
	Limiter      *tenant.Limiter
	RateLimiter  *ratelimit.Limiter
	Envelope     *envelope.Service
	Cache        *cache.Cache
	Runner       *execution.Runner
	Trail        *audit.Trail
	AuditLog     audit.Searcher
	Health       *observability.HealthChecker
	Metrics      *observability.Metrics
	PromRegistry *prometheus.Registry
	AdminToken   string
	Logger       *observability.Logger

	// ServiceToken guards the /v1 routes. Callers presenting it may assert
	// the acting user with execution.UserHeader.
	ServiceToken string
	// TrustUserHeader accepts execution.UserHeader on /v1 without a service
	// token. Only for deployments behind an authenticating proxy.
	TrustUserHeader bool
}

// Server represents the tenancy HTTP server
type Server struct {
	opts    Options
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
}

// NewServer creates a server and registers its routes
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	s := &Server{
		opts:   opts,
		router: mux.NewRouter(),
		logger: logger,
	}
	s.router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))
	s.setupRoutes()

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)(s.router)
	return s
}

// setupRoutes configures all the routes
func (s *Server) setupRoutes() {
	if s.opts.Health != nil {
		s.router.HandleFunc("/healthz", s.opts.Health.Liveness).Methods(http.MethodGet)
		s.router.HandleFunc("/readyz", s.opts.Health.Readiness).Methods(http.MethodGet)
	}
	if s.opts.PromRegistry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.opts.PromRegistry)).Methods(http.MethodGet)
	}

	if s.opts.AdminToken == "" {
		s.logger.Warn("no admin token configured, admin routes disabled")
	} else {
		admin := s.router.PathPrefix("/admin").Subrouter()
		admin.Use(httputil.BearerTokenMiddleware(s.opts.AdminToken))
		admin.Use(httputil.ContentTypeMiddleware)
		s.registerAdminRoutes(admin)
	}

	if s.opts.Runner != nil {
		scoped := s.router.PathPrefix("/v1/tenants/{" + execution.TenantVar + "}").Subrouter()
		switch {
		case s.opts.ServiceToken != "":
			scoped.Use(httputil.BearerTokenMiddleware(s.opts.ServiceToken))
			scoped.Use(execution.TrustUserHeader)
		case s.opts.TrustUserHeader:
			s.logger.Warn("trusting user header without a service token, /v1 must sit behind an authenticating proxy")
			scoped.Use(execution.TrustUserHeader)
		default:
			s.logger.Warn("no service token configured, /v1 accepts only users set by upstream middleware")
		}
		scoped.Use(httputil.ContentTypeMiddleware)
		s.registerTenantRoutes(scoped)
	}
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// statusCode maps component errors to HTTP status codes
func statusCode(err error) int {
	switch {
	case errors.Is(err, tenant.ErrInvalidStatus),
		errors.Is(err, tenant.ErrInvalidConfig),
		errors.Is(err, rbac.ErrInvalidRole),
		errors.Is(err, rbac.ErrInvalidGrant),
		errors.Is(err, envelope.ErrMalformedCiphertext),
		errors.Is(err, envelope.ErrDecrypt):
		return http.StatusBadRequest
	case errors.Is(err, tenant.ErrLimitExceeded):
		return http.StatusTooManyRequests
	default:
		return execution.StatusCode(err)
	}
}

// writeError writes err attributed to tenantID. Internal failures are
// logged and their detail withheld.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, tenantID string, err error) {
	status := statusCode(err)
	if status >= http.StatusInternalServerError {
		observability.Enrich(r.Context(), s.logger).WithTenant(tenantID).WithError(err).Error("request failed")
		err = errors.New(http.StatusText(status))
	}
	httputil.WriteTenantError(w, status, tenantID, err)
}
