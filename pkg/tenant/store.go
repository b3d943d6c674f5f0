package tenant

import "context"

// Store reads tenants from the system of record
type Store interface {
	// GetTenant returns ErrNotFound (possibly wrapped) for unknown ids.
	GetTenant(ctx context.Context, tenantID string) (*Tenant, error)
	GetConfig(ctx context.Context, tenantID string) ([]ConfigEntry, error)
}

// Writer applies admin mutations to the system of record
type Writer interface {
	SetStatus(ctx context.Context, tenantID string, status Status) error
	UpsertConfig(ctx context.Context, tenantID string, entry ConfigEntry) error
}
