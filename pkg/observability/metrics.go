package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the tenancy core.
//
// A nil *Metrics is valid; every Record/Observe method is a no-op on nil so
// components can be built without a registry in tests.
type Metrics struct {
	// Registry metrics
	RegistryLookupsTotal       *prometheus.CounterVec
	RegistryInvalidationsTotal *prometheus.CounterVec

	// Scoped cache metrics
	CacheOperationsTotal *prometheus.CounterVec

	// Authorization metrics
	AuthorizationDecisionsTotal *prometheus.CounterVec

	// Execution metrics
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec

	// Encryption metrics
	KeyCacheLookupsTotal      *prometheus.CounterVec
	KeyDerivationDuration     prometheus.Histogram
	FieldDecryptFailuresTotal *prometheus.CounterVec

	// Limit metrics
	LimitChecksTotal        *prometheus.CounterVec
	RateLimitDecisionsTotal *prometheus.CounterVec

	// Redis pool metrics
	RedisPoolTotalConns prometheus.Gauge
	RedisPoolIdleConns  prometheus.Gauge
	RedisPoolTimeouts   prometheus.Gauge

	// Ops server metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		RegistryLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_registry_lookups_total",
				Help: "Tenant context lookups by tier and result",
			},
			[]string{"tier", "result"},
		),
		RegistryInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_registry_invalidations_total",
				Help: "Tenant context invalidations by origin and result",
			},
			[]string{"origin", "result"},
		),
		CacheOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_cache_operations_total",
				Help: "Tenant scoped cache operations by operation and result",
			},
			[]string{"operation", "result"},
		),
		AuthorizationDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_authorization_decisions_total",
				Help: "Authorization decisions by outcome and permission source",
			},
			[]string{"decision", "source"},
		),
		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_executions_total",
				Help: "Tenant execution contexts by final state and the state they failed in",
			},
			[]string{"outcome", "failed_in"},
		),
		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenancy_execution_duration_seconds",
				Help:    "Duration of tenant execution contexts",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		KeyCacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_key_cache_lookups_total",
				Help: "Derived tenant key cache lookups by result",
			},
			[]string{"result"},
		),
		KeyDerivationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tenancy_key_derivation_duration_seconds",
				Help:    "Time spent deriving tenant keys",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		FieldDecryptFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_field_decrypt_failures_total",
				Help: "Sensitive fields left as ciphertext because decryption failed",
			},
			[]string{"field"},
		),
		LimitChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_limit_checks_total",
				Help: "Tenant limit checks by resource and result",
			},
			[]string{"resource", "result"},
		),
		RateLimitDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_rate_limit_decisions_total",
				Help: "Tenant API rate limit decisions by result",
			},
			[]string{"result"},
		),
		RedisPoolTotalConns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenancy_redis_pool_total_conns",
				Help: "Number of total connections in the Redis pool",
			},
		),
		RedisPoolIdleConns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenancy_redis_pool_idle_conns",
				Help: "Number of idle connections in the Redis pool",
			},
		),
		RedisPoolTimeouts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenancy_redis_pool_timeouts",
				Help: "Times a Redis connection could not be obtained in time",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_http_requests_total",
				Help: "Total number of ops HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenancy_http_request_duration_seconds",
				Help:    "Ops HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		m.RegistryLookupsTotal,
		m.RegistryInvalidationsTotal,
		m.CacheOperationsTotal,
		m.AuthorizationDecisionsTotal,
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.KeyCacheLookupsTotal,
		m.KeyDerivationDuration,
		m.FieldDecryptFailuresTotal,
		m.LimitChecksTotal,
		m.RateLimitDecisionsTotal,
		m.RedisPoolTotalConns,
		m.RedisPoolIdleConns,
		m.RedisPoolTimeouts,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// RecordRegistryLookup counts one registry lookup at tier (l1, l2, store)
func (m *Metrics) RecordRegistryLookup(tier, result string) {
	if m == nil {
		return
	}
	m.RegistryLookupsTotal.WithLabelValues(tier, result).Inc()
}

// RecordInvalidation counts one registry invalidation
func (m *Metrics) RecordInvalidation(origin, result string) {
	if m == nil {
		return
	}
	m.RegistryInvalidationsTotal.WithLabelValues(origin, result).Inc()
}

// RecordCacheOperation counts one scoped cache operation
func (m *Metrics) RecordCacheOperation(operation, result string) {
	if m == nil {
		return
	}
	m.CacheOperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordAuthorization counts one authorization decision
func (m *Metrics) RecordAuthorization(allowed bool, source string) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.AuthorizationDecisionsTotal.WithLabelValues(decision, source).Inc()
}

// RecordExecution records the end of one execution context
func (m *Metrics) RecordExecution(outcome, failedIn string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(outcome, failedIn).Inc()
	m.ExecutionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordKeyCacheLookup counts one derived-key cache lookup
func (m *Metrics) RecordKeyCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.KeyCacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveKeyDerivation records how long one key derivation took
func (m *Metrics) ObserveKeyDerivation(duration time.Duration) {
	if m == nil {
		return
	}
	m.KeyDerivationDuration.Observe(duration.Seconds())
}

// RecordFieldDecryptFailure counts one field left as ciphertext
func (m *Metrics) RecordFieldDecryptFailure(field string) {
	if m == nil {
		return
	}
	m.FieldDecryptFailuresTotal.WithLabelValues(field).Inc()
}

// RecordLimitCheck counts one limit check
func (m *Metrics) RecordLimitCheck(resource, result string) {
	if m == nil {
		return
	}
	m.LimitChecksTotal.WithLabelValues(resource, result).Inc()
}

// RecordRateLimit counts one rate limit decision
func (m *Metrics) RecordRateLimit(result string) {
	if m == nil {
		return
	}
	m.RateLimitDecisionsTotal.WithLabelValues(result).Inc()
}

// SetRedisPoolStats publishes Redis pool gauges
func (m *Metrics) SetRedisPoolStats(total, idle, timeouts uint32) {
	if m == nil {
		return
	}
	m.RedisPoolTotalConns.Set(float64(total))
	m.RedisPoolIdleConns.Set(float64(idle))
	m.RedisPoolTimeouts.Set(float64(timeouts))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments ops HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := routePath(r)
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// routePath returns the matched route template so tenant ids do not become
// label values. Unrouted requests fall back to the raw path.
func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// MetricsHandler serves the given registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
