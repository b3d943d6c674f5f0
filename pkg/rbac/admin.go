package rbac

import (
	"context"
	"fmt"

	"github.com/agentmitra/tenancy/pkg/observability"
)

// GrantWriter applies grant mutations to the system of record
type GrantWriter interface {
	// UpsertGrant creates or replaces the grant of (tenant, user).
	UpsertGrant(ctx context.Context, grant Grant) error
	// DeactivateGrant marks the grant of (tenant, user) inactive.
	DeactivateGrant(ctx context.Context, tenantID, userID string) error
}

// Admin writes grants and purges the resolver's memo before returning
type Admin struct {
	writer   GrantWriter
	resolver *Resolver
	logger   *observability.Logger
}

// NewAdmin creates an admin over writer and resolver
func NewAdmin(writer GrantWriter, resolver *Resolver, logger *observability.Logger) *Admin {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Admin{writer: writer, resolver: resolver, logger: logger}
}

// Grant creates or replaces a grant. The role alias is normalized.
func (a *Admin) Grant(ctx context.Context, grant Grant) error {
	if err := grant.Validate(); err != nil {
		return err
	}
	grant.Role, _ = ParseRole(string(grant.Role))

	if err := a.writer.UpsertGrant(ctx, grant); err != nil {
		return fmt.Errorf("failed to write grant of user %s in tenant %s: %w", grant.UserID, grant.TenantID, err)
	}
	if err := a.resolver.forget(ctx, grant.TenantID, grant.UserID); err != nil {
		return fmt.Errorf("grant of user %s written but memo purge failed: %w", grant.UserID, err)
	}
	a.logger.WithTenant(grant.TenantID).
		WithField("user_id", grant.UserID).
		WithField("role", string(grant.Role)).
		Info("grant written")
	return nil
}

// Revoke deactivates the grant of (tenant, user)
func (a *Admin) Revoke(ctx context.Context, tenantID, userID string) error {
	if tenantID == "" || userID == "" {
		return fmt.Errorf("%w: tenant and user are required", ErrInvalidGrant)
	}
	if err := a.writer.DeactivateGrant(ctx, tenantID, userID); err != nil {
		return fmt.Errorf("failed to revoke grant of user %s in tenant %s: %w", userID, tenantID, err)
	}
	if err := a.resolver.forget(ctx, tenantID, userID); err != nil {
		return fmt.Errorf("grant of user %s revoked but memo purge failed: %w", userID, err)
	}
	a.logger.WithTenant(tenantID).WithField("user_id", userID).Info("grant revoked")
	return nil
}
