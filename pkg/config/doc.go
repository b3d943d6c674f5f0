// Package config loads the tenancy service configuration.
//
// # Overview
//
// Values are layered: built-in defaults, then an optional YAML file named by
// TENANCY_CONFIG_FILE, then TENANCY_* environment variables. The result is
// validated before it is returned.
//
// # Configuration Structure
//
// Server settings:
//
//	TENANCY_HOST="0.0.0.0"
//	TENANCY_PORT="9090"
//	TENANCY_ADMIN_TOKEN="..."   # enables /admin routes
//	TENANCY_SERVICE_TOKEN="..." # guards /v1 routes, holders may send X-User-ID
//	TENANCY_TRUST_USER_HEADER="false"
//	TENANCY_RATE_LIMIT_WINDOW="1h"
//	TENANCY_RATE_LIMIT_FAIL_OPEN="true"
//
// Storage settings:
//
//	TENANCY_POSTGRES_URL="postgres://localhost/tenancy?sslmode=disable"
//	TENANCY_POSTGRES_REPLICA_URLS="postgres://replica1/tenancy,postgres://replica2/tenancy"
//	TENANCY_REDIS_URL="redis://localhost:6379/0"
//
// Cache settings:
//
//	TENANCY_CACHE_NAMESPACE="tenancy"
//	TENANCY_REGISTRY_TTL="5m"
//	TENANCY_GRANT_TTL="1m"
//	TENANCY_WARM_TENANTS="acme,globex"
//
// Crypto settings:
//
//	TENANCY_MASTER_KEY="..."          # read through TENANCY_MASTER_KEY_ENV
//	TENANCY_MASTER_KEY_FILE="/run/secrets/master-key"
//	TENANCY_KEY_ITERATIONS="100000"
//	TENANCY_KEY_TTL="1h"
//
// Audit settings:
//
//	TENANCY_AUDIT_DIR="/var/log/tenancy/audit"  # optional JSON lines copy
//	TENANCY_AUDIT_RETENTION="2160h"
//	TENANCY_AUDIT_PURGE_SCHEDULE="@daily"
//
// Observability settings:
//
//	TENANCY_LOG_LEVEL="info"  # debug, info, warn, error
//	TENANCY_OTEL_ENABLED="true"
//	TENANCY_OTEL_ENDPOINT="otel-collector:4317"
//
// The same keys appear in the YAML file in snake case under server, storage,
// cache, crypto, audit and observability:
//
//	storage:
//	  postgres_url: postgres://localhost/tenancy
//	cache:
//	  registry_ttl: 10m
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
package config
