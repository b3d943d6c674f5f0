package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentmitra/tenancy/pkg/observability"
	"github.com/agentmitra/tenancy/pkg/rbac"
	"github.com/agentmitra/tenancy/pkg/tenant"
)

// Store is the PostgreSQL system of record. It implements tenant.Store,
// tenant.Writer, tenant.UsageCounter, rbac.GrantStore and rbac.GrantWriter.
//
// Reads that feed the caches (tenants, config, grants) go to the primary so
// an invalidation is never followed by a reload of replica-lagged data.
// Listing and usage reads go to a replica.
type Store struct {
	conns  *ConnectionManager
	logger *observability.Logger
	now    func() time.Time
}

// NewStore creates a store over conns
func NewStore(conns *ConnectionManager, logger *observability.Logger) *Store {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Store{
		conns:  conns,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

const tenantColumns = `id, code, name, type, status, plan, trial_ends_at,
	max_users, storage_limit_gb, api_rate_limit,
	contact_email, contact_phone, contact_address,
	branding, theme, metadata, created_at, updated_at`

func marshalObject(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalObject(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// CreateTenant inserts a new tenant
func (s *Store) CreateTenant(ctx context.Context, t *tenant.Tenant) error {
	if strings.TrimSpace(t.ID) == "" || strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tenant id and name are required")
	}
	if t.Code == "" {
		t.Code = t.ID
	}
	if t.Status == "" {
		t.Status = tenant.StatusActive
	}
	status, err := tenant.ParseStatus(string(t.Status))
	if err != nil {
		return err
	}
	t.Status = status
	t.Plan = t.Plan.Normalize()

	branding, err := marshalObject(t.Branding)
	if err != nil {
		return fmt.Errorf("failed to marshal branding: %w", err)
	}
	theme, err := marshalObject(t.Theme)
	if err != nil {
		return fmt.Errorf("failed to marshal theme: %w", err)
	}
	metadata, err := marshalObject(t.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	now := s.now()
	var trialEndsAt sql.NullTime
	if t.TrialEndsAt != nil {
		trialEndsAt = sql.NullTime{Time: t.TrialEndsAt.UTC(), Valid: true}
	}

	query := `
		INSERT INTO tenants (` + tenantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err = s.conns.Primary().ExecContext(ctx, query,
		t.ID, t.Code, t.Name, t.Type, string(t.Status), string(t.Plan), trialEndsAt,
		t.Limits.MaxUsers, t.Limits.StorageLimitGB, t.Limits.APIRateLimit,
		t.Contact.Email, t.Contact.Phone, t.Contact.Address,
		branding, theme, metadata, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create tenant %s: %w", t.ID, err)
	}
	t.CreatedAt, t.UpdatedAt = now, now
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*tenant.Tenant, error) {
	var (
		t                     tenant.Tenant
		status, plan          string
		trialEndsAt           sql.NullTime
		branding, theme, meta []byte
	)
	err := row.Scan(
		&t.ID, &t.Code, &t.Name, &t.Type, &status, &plan, &trialEndsAt,
		&t.Limits.MaxUsers, &t.Limits.StorageLimitGB, &t.Limits.APIRateLimit,
		&t.Contact.Email, &t.Contact.Phone, &t.Contact.Address,
		&branding, &theme, &meta, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = tenant.Status(status)
	t.Plan = tenant.Plan(plan).Normalize()
	if trialEndsAt.Valid {
		ends := trialEndsAt.Time.UTC()
		t.TrialEndsAt = &ends
	}
	if t.Branding, err = unmarshalObject(branding); err != nil {
		return nil, fmt.Errorf("failed to unmarshal branding: %w", err)
	}
	if t.Theme, err = unmarshalObject(theme); err != nil {
		return nil, fmt.Errorf("failed to unmarshal theme: %w", err)
	}
	if t.Metadata, err = unmarshalObject(meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &t, nil
}

// GetTenant returns *tenant.NotFoundError for unknown ids
func (s *Store) GetTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`

	t, err := scanTenant(s.conns.Primary().QueryRowContext(ctx, query, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &tenant.NotFoundError{TenantID: tenantID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// ListTenants returns tenants ordered by id, optionally filtered by status
func (s *Store) ListTenants(ctx context.Context, status tenant.Status) ([]tenant.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY id`

	rows, err := s.conns.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var out []tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// SetStatus changes the status of a tenant
func (s *Store) SetStatus(ctx context.Context, tenantID string, status tenant.Status) error {
	res, err := s.conns.Primary().ExecContext(ctx,
		`UPDATE tenants SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), s.now(), tenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to update tenant status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update tenant status: %w", err)
	}
	if n == 0 {
		return &tenant.NotFoundError{TenantID: tenantID}
	}
	return nil
}

func (s *Store) tenantExists(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, tenantID string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM tenants WHERE id = $1`, tenantID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return &tenant.NotFoundError{TenantID: tenantID}
	}
	if err != nil {
		return fmt.Errorf("failed to check tenant: %w", err)
	}
	return nil
}

// UpsertConfig sets a config entry, replacing any entry with the same key
func (s *Store) UpsertConfig(ctx context.Context, tenantID string, entry tenant.ConfigEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	value, err := json.Marshal(entry.Value)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", tenant.ErrInvalidConfig, entry.Key, err)
	}

	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.tenantExists(ctx, tx, tenantID); err != nil {
		return err
	}

	query := `
		INSERT INTO tenant_configs (tenant_id, config_key, config_type, config_value, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, config_key) DO UPDATE
		SET config_type = EXCLUDED.config_type,
			config_value = EXCLUDED.config_value,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := tx.ExecContext(ctx, query, tenantID, entry.Key, string(entry.Type), string(value), s.now()); err != nil {
		return fmt.Errorf("failed to upsert config %s: %w", entry.Key, err)
	}
	return tx.Commit()
}

// decodeConfigValue restores the Go type implied by the declared config type
func decodeConfigValue(typ tenant.ConfigType, raw []byte) (any, error) {
	switch typ {
	case tenant.ConfigString:
		var v string
		err := json.Unmarshal(raw, &v)
		return v, err
	case tenant.ConfigInt:
		var v int64
		err := json.Unmarshal(raw, &v)
		return v, err
	case tenant.ConfigBool:
		var v bool
		err := json.Unmarshal(raw, &v)
		return v, err
	default:
		var v any
		err := json.Unmarshal(raw, &v)
		return v, err
	}
}

// GetConfig returns the config entries of a tenant sorted by key. Entries
// whose stored value does not match their type are skipped with a warning.
func (s *Store) GetConfig(ctx context.Context, tenantID string) ([]tenant.ConfigEntry, error) {
	rows, err := s.conns.Primary().QueryContext(ctx,
		`SELECT config_key, config_type, config_value FROM tenant_configs WHERE tenant_id = $1 ORDER BY config_key`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	defer rows.Close()

	entries := make([]tenant.ConfigEntry, 0)
	for rows.Next() {
		var (
			key, typ string
			raw      []byte
		)
		if err := rows.Scan(&key, &typ, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan config: %w", err)
		}
		value, err := decodeConfigValue(tenant.ConfigType(typ), raw)
		if err != nil {
			s.logger.WithTenant(tenantID).WithField("key", key).WithError(err).Warn("skipping malformed config entry")
			continue
		}
		entries = append(entries, tenant.ConfigEntry{Key: key, Type: tenant.ConfigType(typ), Value: value})
	}
	return entries, rows.Err()
}

const grantColumns = `tenant_id, user_id, role, permissions, is_active, is_primary, joined_at`

func scanGrant(row rowScanner) (*rbac.Grant, error) {
	var (
		g     rbac.Grant
		role  string
		perms []byte
	)
	if err := row.Scan(&g.TenantID, &g.UserID, &role, &perms, &g.Active, &g.IsPrimary, &g.JoinedAt); err != nil {
		return nil, err
	}
	g.Role = rbac.Role(role)
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &g.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}
	if len(g.Permissions) == 0 {
		g.Permissions = nil
	}
	return &g, nil
}

// GetGrant returns the user's grant in the tenant, or nil when there is none
func (s *Store) GetGrant(ctx context.Context, tenantID, userID string) (*rbac.Grant, error) {
	row := s.conns.Primary().QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM tenant_users WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID,
	)
	g, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return g, nil
}

// ListGrants returns the user's grants ordered by tenant id
func (s *Store) ListGrants(ctx context.Context, userID string) ([]rbac.Grant, error) {
	rows, err := s.conns.Replica().QueryContext(ctx,
		`SELECT `+grantColumns+` FROM tenant_users WHERE user_id = $1 ORDER BY tenant_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	var out []rbac.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// UpsertGrant creates or replaces a grant
func (s *Store) UpsertGrant(ctx context.Context, grant rbac.Grant) error {
	if err := grant.Validate(); err != nil {
		return err
	}
	role, _ := rbac.ParseRole(string(grant.Role))
	perms := grant.Permissions
	if perms == nil {
		perms = []string{}
	}
	data, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	now := s.now()
	joinedAt := grant.JoinedAt.UTC()
	if grant.JoinedAt.IsZero() {
		joinedAt = now
	}

	query := `
		INSERT INTO tenant_users (tenant_id, user_id, role, permissions, is_active, is_primary, joined_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, user_id) DO UPDATE
		SET role = EXCLUDED.role,
			permissions = EXCLUDED.permissions,
			is_active = EXCLUDED.is_active,
			is_primary = EXCLUDED.is_primary,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.conns.Primary().ExecContext(ctx, query,
		grant.TenantID, grant.UserID, string(role), string(data),
		grant.Active, grant.IsPrimary, joinedAt, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert grant: %w", err)
	}
	return nil
}

// DeactivateGrant marks a grant inactive; missing grants are ignored
func (s *Store) DeactivateGrant(ctx context.Context, tenantID, userID string) error {
	_, err := s.conns.Primary().ExecContext(ctx,
		`UPDATE tenant_users SET is_active = $1, updated_at = $2 WHERE tenant_id = $3 AND user_id = $4`,
		false, s.now(), tenantID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate grant: %w", err)
	}
	return nil
}

// Usage reports current consumption: active users are counted from
// tenant_users, other resources are read from tenant_usage.
func (s *Store) Usage(ctx context.Context, tenantID, resource string) (int64, error) {
	var (
		n   int64
		err error
	)
	if resource == tenant.ResourceUsers {
		err = s.conns.Replica().QueryRowContext(ctx,
			`SELECT COUNT(*) FROM tenant_users WHERE tenant_id = $1 AND is_active = $2`,
			tenantID, true,
		).Scan(&n)
	} else {
		err = s.conns.Replica().QueryRowContext(ctx,
			`SELECT amount FROM tenant_usage WHERE tenant_id = $1 AND resource = $2`,
			tenantID, resource,
		).Scan(&n)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s usage: %w", resource, err)
	}
	return n, nil
}

// SetUsage records externally measured consumption of resource
func (s *Store) SetUsage(ctx context.Context, tenantID, resource string, amount int64) error {
	if resource == tenant.ResourceUsers {
		return fmt.Errorf("user usage is derived from grants and cannot be set")
	}
	query := `
		INSERT INTO tenant_usage (tenant_id, resource, amount, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, resource) DO UPDATE
		SET amount = EXCLUDED.amount, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.conns.Primary().ExecContext(ctx, query, tenantID, resource, amount, s.now()); err != nil {
		return fmt.Errorf("failed to set %s usage: %w", resource, err)
	}
	return nil
}

var (
	_ tenant.Store        = (*Store)(nil)
	_ tenant.Writer       = (*Store)(nil)
	_ tenant.UsageCounter = (*Store)(nil)
	_ rbac.GrantStore     = (*Store)(nil)
	_ rbac.GrantWriter    = (*Store)(nil)
)
