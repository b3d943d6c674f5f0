package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker("test")

	req := httptest.NewRequest("GET", "/healthz", nil)
	rr := httptest.NewRecorder()
	checker.Liveness(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Liveness returned %v, want %v", rr.Code, http.StatusOK)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", ct)
	}
}

func TestHealthChecker_Check(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name string
		deps []Dependency
		want string
	}{
		{"no dependencies", nil, StatusHealthy},
		{"all healthy", []Dependency{{Name: "postgres", Pinger: ok}, {Name: "redis", Pinger: ok, Optional: true}}, StatusHealthy},
		{"optional down", []Dependency{{Name: "postgres", Pinger: ok}, {Name: "redis", Pinger: down, Optional: true}}, StatusDegraded},
		{"required down", []Dependency{{Name: "postgres", Pinger: down}, {Name: "redis", Pinger: ok, Optional: true}}, StatusUnhealthy},
		{"both down", []Dependency{{Name: "redis", Pinger: down, Optional: true}, {Name: "postgres", Pinger: down}}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := NewHealthChecker("v1", tt.deps...).Check(context.Background())
			if status.Status != tt.want {
				t.Errorf("Status = %s, want %s", status.Status, tt.want)
			}
			if len(status.Dependencies) != len(tt.deps) {
				t.Errorf("got %d dependency results, want %d", len(status.Dependencies), len(tt.deps))
			}
		})
	}
}

func TestHealthChecker_Readiness(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	defer db.Close()
	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	checker := NewHealthChecker("v1",
		Dependency{Name: "postgres", Pinger: DBPinger(db)},
		Dependency{Name: "redis", Pinger: PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }), Optional: true},
	)

	rr := httptest.NewRecorder()
	checker.Readiness(rr, httptest.NewRequest("GET", "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Readiness returned %v, want %v", rr.Code, http.StatusOK)
	}
	var status HealthStatus
	if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != StatusHealthy {
		t.Errorf("Status = %s, want healthy", status.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sql expectations: %v", err)
	}

	mr.Close()
	rr = httptest.NewRecorder()
	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	checker.Readiness(rr, httptest.NewRequest("GET", "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("degraded readiness returned %v, want %v", rr.Code, http.StatusOK)
	}
}

func TestHealthChecker_ReadinessUnhealthy(t *testing.T) {
	checker := NewHealthChecker("v1", Dependency{
		Name:   "postgres",
		Pinger: PingFunc(func(context.Context) error { return errors.New("down") }),
	})

	rr := httptest.NewRecorder()
	checker.Readiness(rr, httptest.NewRequest("GET", "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Readiness returned %v, want %v", rr.Code, http.StatusServiceUnavailable)
	}
}
