package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmitra/tenancy/pkg/audit"
	"github.com/agentmitra/tenancy/pkg/config"
	"github.com/agentmitra/tenancy/pkg/envelope"
	"github.com/agentmitra/tenancy/pkg/execution"
	"github.com/agentmitra/tenancy/pkg/observability"
	"github.com/agentmitra/tenancy/pkg/rbac"
	"github.com/agentmitra/tenancy/pkg/storage/postgres"
	"github.com/agentmitra/tenancy/pkg/tenant"
)

func encodedKey(b byte) string {
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{b}, 32))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Crypto.MasterKeyEnv = "TEST_TENANCY_MASTER_KEY"
	cfg.Crypto.Iterations = 1000
	t.Setenv(cfg.Crypto.MasterKeyEnv, encodedKey(7))
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, logger *observability.Logger, opts ...Option) *App {
	t.Helper()
	a, err := New(cfg, logger, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNew_InMemory(t *testing.T) {
	var logs bytes.Buffer
	a := newTestApp(t, testConfig(t), observability.NewLogger(observability.DebugLevel, &logs))

	assert.Nil(t, a.Conns)
	assert.Nil(t, a.Store)
	assert.Nil(t, a.Redis)
	assert.IsType(t, &tenant.MemoryStore{}, a.Tenants)
	assert.IsType(t, &rbac.MemoryGrantStore{}, a.Grants)
	assert.IsType(t, envelope.EnvKeySource{}, a.KeySource)
	assert.IsType(t, &audit.MemoryLogger{}, a.AuditLog)
	assert.Contains(t, logs.String(), "held in memory")

	ctx := context.Background()
	a.Tenants.(*tenant.MemoryStore).Put(tenant.Tenant{ID: "acme", Name: "Acme", Status: tenant.StatusActive, Plan: tenant.PlanBasic})
	require.NoError(t, a.GrantAdmin.Grant(ctx, rbac.Grant{TenantID: "acme", UserID: "u1", Role: rbac.RoleJuniorAgent, Active: true}))

	err := a.Runner.Run(ctx, execution.Request{TenantID: "acme", UserID: "u1", Operation: "create", Resource: "policies"}, func(ctx context.Context) error {
		rec, err := a.Envelope.EncryptRecord(ctx, execution.TenantID(ctx), envelope.Record{"ssn": "123"})
		if err != nil {
			return err
		}
		assert.True(t, envelope.IsCiphertext(rec["ssn"]))
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, a.Limiter.Check(ctx, "acme", "users", 1))

	d, err := a.RateLimiter.Allow(ctx, "acme", 10)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(9), d.Remaining)
}

func TestNew_WithConnections(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "tenancy.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = postgres.RunMigrations(context.Background(), db, nil)
	require.NoError(t, err)

	a := newTestApp(t, testConfig(t), nil, WithConnections(postgres.NewConnectionManagerFromDB(db, nil)))
	require.NotNil(t, a.Store)
	assert.Same(t, a.Store, a.Tenants)

	ctx := context.Background()
	require.NoError(t, a.Store.CreateTenant(ctx, &tenant.Tenant{ID: "acme", Name: "Acme", Plan: tenant.PlanEnterprise}))
	tc, err := a.TenantCache.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, tenant.PlanEnterprise, tc.Tenant.Plan)

	status := a.HealthChecker("test").Check(ctx)
	assert.Contains(t, status.Dependencies, "postgres")

	c, err := a.Maintenance("@every 1m")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 3)
	a.reportConnectionStats()

	a.Trail.Record(ctx, &audit.Event{
		ID:        "old",
		Timestamp: time.Now().Add(-100 * 24 * time.Hour).UTC(),
		Action:    audit.ActionKeyRotated,
		Status:    audit.StatusSuccess,
		TenantID:  "acme",
	})
	a.Trail.Record(ctx, audit.NewEvent(ctx, nil, audit.ActionCacheCleared, "acme", nil))
	events, err := a.AuditLog.Search(ctx, audit.SearchFilter{TenantID: "acme"})
	require.NoError(t, err)
	require.Len(t, events, 2)

	a.purgeAudit()
	events, err = a.AuditLog.Search(ctx, audit.SearchFilter{TenantID: "acme"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionCacheCleared, events[0].Action)

	// The connection manager belongs to the caller.
	require.NoError(t, a.Close())
	assert.NoError(t, db.Ping())
}

func TestNew_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Storage.RedisURL = "redis://" + mr.Addr()

	a := newTestApp(t, cfg, nil)
	require.NotNil(t, a.Redis)
	assert.Same(t, a.Redis, a.Cache.Transport())

	_, err := a.RateLimiter.Allow(context.Background(), "acme", 10)
	require.NoError(t, err)
	assert.True(t, mr.Exists(cfg.Cache.Namespace+":ratelimit:acme"), "the quota window is shared through redis")

	status := a.HealthChecker("test").Check(context.Background())
	assert.Equal(t, observability.StatusHealthy, status.Status)
	assert.Contains(t, status.Dependencies, "redis")

	mr.Close()
	status = a.HealthChecker("test").Check(context.Background())
	assert.Equal(t, observability.StatusDegraded, status.Status)
}

func TestNew_Errors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.RedisURL = "redis://127.0.0.1:1"
	_, err := New(cfg, nil)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Crypto.MasterKeyFile = filepath.Join(t.TempDir(), "missing")
	_, err = New(cfg, nil)
	assert.Error(t, err)

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg = testConfig(t)
	cfg.Audit.Dir = filepath.Join(blocker, "audit")
	_, err = New(cfg, nil)
	assert.ErrorContains(t, err, "audit log file")
}

func TestWarm(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.WarmTenants = []string{"acme", "ghost"}
	a := newTestApp(t, cfg, nil)
	a.Tenants.(*tenant.MemoryStore).Put(tenant.Tenant{ID: "acme", Name: "Acme", Status: tenant.StatusActive, Plan: tenant.PlanBasic})

	require.NoError(t, a.Warm(context.Background()))
	assert.Equal(t, 1, a.TenantCache.Len())
}

func TestStart_WatchesMasterKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.key")
	require.NoError(t, os.WriteFile(path, []byte(encodedKey(1)), 0o600))

	cfg := testConfig(t)
	cfg.Crypto.MasterKeyFile = path
	a := newTestApp(t, cfg, nil)
	require.IsType(t, &envelope.FileKeySource{}, a.KeySource)
	a.Tenants.(*tenant.MemoryStore).Put(tenant.Tenant{ID: "acme", Name: "Acme", Status: tenant.StatusActive, Plan: tenant.PlanBasic})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)

	before, err := a.Envelope.DeriveKey(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 1, a.Envelope.CachedKeys())

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(encodedKey(2)), 0o600))

	require.Eventually(t, func() bool {
		return a.Envelope.CachedKeys() == 0
	}, 5*time.Second, 20*time.Millisecond)

	after, err := a.Envelope.DeriveKey(ctx, "acme")
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	require.NoError(t, a.Stop(time.Second))
}

func TestStop_WithoutStart(t *testing.T) {
	a := newTestApp(t, testConfig(t), nil)
	assert.NoError(t, a.Stop(time.Second))
}

func TestNew_AuditDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.Dir = filepath.Join(t.TempDir(), "audit")
	a := newTestApp(t, cfg, nil)

	ctx := context.Background()
	a.Trail.Record(ctx, audit.NewEvent(ctx, nil, audit.ActionTenantInvalidated, "acme", nil))

	events, err := a.AuditLog.Search(ctx, audit.SearchFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	written, err := audit.ReadFile(filepath.Join(cfg.Audit.Dir, "audit.log"), 0)
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.Equal(t, events[0].ID, written[0].ID)
}

func TestMaintenance(t *testing.T) {
	var logs bytes.Buffer
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Storage.RedisURL = "redis://" + mr.Addr()
	a := newTestApp(t, cfg, observability.NewLogger(observability.DebugLevel, &logs))

	c, err := a.Maintenance("")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 2)

	a.reportCacheStats()
	assert.Contains(t, logs.String(), "cache statistics")

	_, err = a.Maintenance("not a schedule")
	assert.Error(t, err)
}

func TestCronLogger(t *testing.T) {
	var logs bytes.Buffer
	a := &App{Logger: observability.NewLogger(observability.DebugLevel, &logs)}
	l := cronLogger{a}

	l.Info("tick", "entry", 1, "dangling")
	l.Error(assert.AnError, "job failed", "entry", 2)

	out := logs.String()
	assert.Contains(t, out, "cron: tick")
	assert.Contains(t, out, `"entry":1`)
	assert.Contains(t, out, "cron: job failed")
	assert.Equal(t, map[string]interface{}{"a": 1}, kv([]interface{}{"a", 1, "b"}))
}
