package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}

	t.Run("registering twice panics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected duplicate registration to panic")
			}
		}()
		NewMetrics(registry)
	})
}

func TestMetrics_Record(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RecordRegistryLookup("l1", "hit")
	m.RecordRegistryLookup("l1", "hit")
	m.RecordRegistryLookup("store", "not_found")
	if got := testutil.ToFloat64(m.RegistryLookupsTotal.WithLabelValues("l1", "hit")); got != 2 {
		t.Errorf("l1 hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RegistryLookupsTotal.WithLabelValues("store", "not_found")); got != 1 {
		t.Errorf("store not_found = %v, want 1", got)
	}

	m.RecordAuthorization(true, "role")
	m.RecordAuthorization(false, "explicit")
	if got := testutil.ToFloat64(m.AuthorizationDecisionsTotal.WithLabelValues("allowed", "role")); got != 1 {
		t.Errorf("allowed/role = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AuthorizationDecisionsTotal.WithLabelValues("denied", "explicit")); got != 1 {
		t.Errorf("denied/explicit = %v, want 1", got)
	}

	m.RecordExecution("failed", "authorized", 20*time.Millisecond)
	if got := testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("failed", "authorized")); got != 1 {
		t.Errorf("executions failed = %v, want 1", got)
	}

	m.RecordKeyCacheLookup(false)
	m.RecordKeyCacheLookup(true)
	m.RecordKeyCacheLookup(true)
	if got := testutil.ToFloat64(m.KeyCacheLookupsTotal.WithLabelValues("hit")); got != 2 {
		t.Errorf("key cache hits = %v, want 2", got)
	}

	m.RecordFieldDecryptFailure("ssn")
	if got := testutil.ToFloat64(m.FieldDecryptFailuresTotal.WithLabelValues("ssn")); got != 1 {
		t.Errorf("ssn failures = %v, want 1", got)
	}

	m.RecordRateLimit("limited")
	if got := testutil.ToFloat64(m.RateLimitDecisionsTotal.WithLabelValues("limited")); got != 1 {
		t.Errorf("limited decisions = %v, want 1", got)
	}

	m.SetRedisPoolStats(10, 4, 1)
	if got := testutil.ToFloat64(m.RedisPoolIdleConns); got != 4 {
		t.Errorf("idle conns = %v, want 4", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRegistryLookup("l1", "hit")
	m.RecordInvalidation("local", "ok")
	m.RecordCacheOperation("get", "miss")
	m.RecordAuthorization(true, "role")
	m.RecordExecution("committed", "", time.Second)
	m.RecordKeyCacheLookup(true)
	m.ObserveKeyDerivation(time.Millisecond)
	m.RecordFieldDecryptFailure("ssn")
	m.RecordLimitCheck("users", "ok")
	m.RecordRateLimit("allowed")
	m.SetRedisPoolStats(1, 1, 0)
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/admin/tenants/t1/invalidate", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}
	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/admin/tenants/t1/invalidate", "202"))
	if got != 1 {
		t.Errorf("requests total = %v, want 1", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordCacheOperation("get", "hit")

	srv := httptest.NewServer(MetricsHandler(registry))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), `tenancy_cache_operations_total{operation="get",result="hit"} 1`) {
		t.Errorf("metrics output missing cache counter:\n%s", body)
	}
}

func TestHTTPMetricsMiddleware_RouteTemplate(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/admin/tenants/{tenant_id}/invalidate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, id := range []string{"t1", "t2"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/admin/tenants/"+id+"/invalidate", nil))
	}

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/admin/tenants/{tenant_id}/invalidate", "204"))
	if got != 2 {
		t.Errorf("requests total = %v, want 2", got)
	}
}
