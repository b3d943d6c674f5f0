package tenant

import (
	"context"
	"fmt"

	"github.com/agentmitra/tenancy/pkg/observability"
)

// Admin applies tenant mutations and invalidates the registry before
// reporting success, so no process keeps serving the pre-mutation context
// from this registry's tiers.
type Admin struct {
	writer   Writer
	registry *Registry
	logger   *observability.Logger
}

// NewAdmin creates an admin over writer and registry
func NewAdmin(writer Writer, registry *Registry, logger *observability.Logger) *Admin {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Admin{writer: writer, registry: registry, logger: logger}
}

// SetStatus moves a tenant to status
func (a *Admin) SetStatus(ctx context.Context, tenantID string, status Status) error {
	if _, err := ParseStatus(string(status)); err != nil {
		return err
	}
	if err := a.writer.SetStatus(ctx, tenantID, status); err != nil {
		return fmt.Errorf("failed to set status of tenant %s: %w", tenantID, err)
	}
	if err := a.registry.Invalidate(ctx, tenantID); err != nil {
		return fmt.Errorf("status of tenant %s changed but cache invalidation failed: %w", tenantID, err)
	}
	a.logger.WithTenant(tenantID).WithField("status", string(status)).Info("tenant status changed")
	return nil
}

// SetConfig upserts one config entry
func (a *Admin) SetConfig(ctx context.Context, tenantID string, entry ConfigEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if err := a.writer.UpsertConfig(ctx, tenantID, entry); err != nil {
		return fmt.Errorf("failed to set config %s of tenant %s: %w", entry.Key, tenantID, err)
	}
	if err := a.registry.Invalidate(ctx, tenantID); err != nil {
		return fmt.Errorf("config of tenant %s changed but cache invalidation failed: %w", tenantID, err)
	}
	a.logger.WithTenant(tenantID).WithField("key", entry.Key).Info("tenant config changed")
	return nil
}
