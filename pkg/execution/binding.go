package execution

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/agentmitra/tenancy/pkg/contextkeys"
	"github.com/agentmitra/tenancy/pkg/rbac"
	"github.com/agentmitra/tenancy/pkg/tenant"
)

// Binding is the tenant scope of one run. It is read-only for work; the
// runner releases it when the run ends.
type Binding struct {
	runID     string
	tenant    *tenant.Context
	grant     *rbac.Grant
	userID    string
	operation string
	resource  string
	startedAt time.Time

	released atomic.Bool
}

// RunID identifies the run
func (b *Binding) RunID() string { return b.runID }

// TenantID returns the bound tenant, or "" once released
func (b *Binding) TenantID() string {
	if b.released.Load() {
		return ""
	}
	return b.tenant.ID()
}

// Tenant returns the resolved tenant context, or nil once released
func (b *Binding) Tenant() *tenant.Context {
	if b.released.Load() {
		return nil
	}
	return b.tenant
}

// UserID returns the user the run acts for
func (b *Binding) UserID() string { return b.userID }

// Operation returns the authorized operation
func (b *Binding) Operation() string { return b.operation }

// Resource returns the authorized resource
func (b *Binding) Resource() string { return b.resource }

// StartedAt returns when the run was created
func (b *Binding) StartedAt() time.Time { return b.startedAt }

// Released reports whether the run has ended
func (b *Binding) Released() bool { return b.released.Load() }

// Can evaluates a further operation against the grant held when the run was
// authorized. It is false once the binding is released.
func (b *Binding) Can(operation, resource string) bool {
	if b.released.Load() {
		return false
	}
	return rbac.Evaluate(b.grant, operation, resource)
}

// HasFeature reports whether the bound tenant has feature enabled
func (b *Binding) HasFeature(feature string) bool {
	if b.released.Load() {
		return false
	}
	return b.tenant.HasFeature(feature)
}

// ScopedTenantID implements contextkeys.TenantScoped
func (b *Binding) ScopedTenantID() (string, bool) {
	if b.released.Load() {
		return "", false
	}
	return b.tenant.ID(), true
}

// ScopedRunID implements contextkeys.TenantScoped
func (b *Binding) ScopedRunID() string { return b.runID }

func (b *Binding) release() {
	b.released.Store(true)
}

// FromContext returns the live binding in ctx
func FromContext(ctx context.Context) (*Binding, bool) {
	b, ok := ctx.Value(contextkeys.TenantBindingKey).(*Binding)
	if !ok || b.released.Load() {
		return nil, false
	}
	return b, true
}

// TenantID returns the tenant bound to ctx, or "" outside a live run
func TenantID(ctx context.Context) string {
	return contextkeys.GetTenantID(ctx)
}

// MustTenantID returns the bound tenant and panics outside a live run. It is
// meant for code that is only ever reached through Runner.Run.
func MustTenantID(ctx context.Context) string {
	id := TenantID(ctx)
	if id == "" {
		panic("execution: no tenant bound to context")
	}
	return id
}
