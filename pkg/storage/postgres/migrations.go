package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agentmitra/tenancy/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the schema of the tenancy system of record.
// Column types stay within what both PostgreSQL and SQLite accept.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create tenants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenants (
					id VARCHAR(64) PRIMARY KEY,
					code VARCHAR(64) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					type VARCHAR(64) NOT NULL DEFAULT '',
					status VARCHAR(32) NOT NULL DEFAULT 'active',
					plan VARCHAR(32) NOT NULL DEFAULT 'basic',
					trial_ends_at TIMESTAMP,
					max_users BIGINT NOT NULL DEFAULT 0,
					storage_limit_gb BIGINT NOT NULL DEFAULT 0,
					api_rate_limit BIGINT NOT NULL DEFAULT 0,
					contact_email VARCHAR(255) NOT NULL DEFAULT '',
					contact_phone VARCHAR(64) NOT NULL DEFAULT '',
					contact_address TEXT NOT NULL DEFAULT '',
					branding JSONB NOT NULL DEFAULT '{}',
					theme JSONB NOT NULL DEFAULT '{}',
					metadata JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_tenants_status ON tenants(status);
			`,
		},
		{
			Version:     2,
			Description: "Create tenant_configs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenant_configs (
					tenant_id VARCHAR(64) NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					config_key VARCHAR(255) NOT NULL,
					config_type VARCHAR(16) NOT NULL,
					config_value JSONB NOT NULL,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (tenant_id, config_key)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create tenant_users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenant_users (
					tenant_id VARCHAR(64) NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					user_id VARCHAR(128) NOT NULL,
					role VARCHAR(64) NOT NULL,
					permissions JSONB NOT NULL DEFAULT '[]',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					is_primary BOOLEAN NOT NULL DEFAULT FALSE,
					joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (tenant_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_tenant_users_user_id ON tenant_users(user_id);
			`,
		},
		{
			Version:     4,
			Description: "Create tenant_usage table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenant_usage (
					tenant_id VARCHAR(64) NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					resource VARCHAR(64) NOT NULL,
					amount BIGINT NOT NULL DEFAULT 0,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (tenant_id, resource)
				);
			`,
		},
		{
			Version:     5,
			Description: "Create audit_log table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_log (
					id VARCHAR(36) PRIMARY KEY,
					occurred_at TIMESTAMP NOT NULL,
					action VARCHAR(64) NOT NULL,
					status VARCHAR(16) NOT NULL,
					tenant_id VARCHAR(64) NOT NULL DEFAULT '',
					actor_id VARCHAR(128) NOT NULL DEFAULT '',
					target_user_id VARCHAR(128) NOT NULL DEFAULT '',
					request_id VARCHAR(100) NOT NULL DEFAULT '',
					ip_address VARCHAR(64) NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					message TEXT NOT NULL DEFAULT '',
					error_message TEXT NOT NULL DEFAULT '',
					details JSONB NOT NULL DEFAULT '{}'
				);

				CREATE INDEX IF NOT EXISTS idx_audit_log_tenant ON audit_log(tenant_id, occurred_at);
				CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
			`,
		},
	}
}

// RunMigrations applies pending migrations in order and returns how many ran
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) (int, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tenancy_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM tenancy_migrations ORDER BY version")
	if err != nil {
		return 0, fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("failed to read migrations: %w", err)
	}
	rows.Close()

	applied := 0
	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tenancy_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
		applied++
	}

	return applied, nil
}
