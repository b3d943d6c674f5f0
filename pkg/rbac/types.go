package rbac

import (
	"fmt"
	"strings"
	"time"
)

// Role names a row of the role table
type Role string

const (
	RoleSuperAdmin      Role = "super_admin"
	RoleProviderAdmin   Role = "provider_admin"
	RoleRegionalManager Role = "regional_manager"
	RoleSeniorAgent     Role = "senior_agent"
	RoleJuniorAgent     Role = "junior_agent"
	RoleSupportStaff    Role = "support_staff"

	// roleProviderAdminAlias is the legacy name of RoleProviderAdmin
	roleProviderAdminAlias Role = "insurance_provider_admin"
)

// Wildcard grants every permission
const Wildcard = "*"

// ParseRole validates s against the role table, resolving aliases
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r == roleProviderAdminAlias {
		r = RoleProviderAdmin
	}
	if _, ok := rolePermissions[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Permission formats an "operation:resource" permission string
func Permission(operation, resource string) string {
	return operation + ":" + resource
}

// Grant binds a user to a tenant with a role and optional explicit permissions
type Grant struct {
	TenantID    string    `json:"tenant_id"`
	UserID      string    `json:"user_id"`
	Role        Role      `json:"role"`
	Permissions []string  `json:"permissions,omitempty"`
	Active      bool      `json:"active"`
	IsPrimary   bool      `json:"is_primary"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Validate checks the grant before it is written
func (g Grant) Validate() error {
	if g.TenantID == "" || g.UserID == "" {
		return fmt.Errorf("%w: tenant and user are required", ErrInvalidGrant)
	}
	if _, err := ParseRole(string(g.Role)); err != nil {
		return err
	}
	for _, p := range g.Permissions {
		if p != Wildcard && !strings.Contains(p, ":") {
			return fmt.Errorf("%w: permission %q is not operation:resource", ErrInvalidGrant, p)
		}
	}
	return nil
}

// Clone returns a deep copy, used to snapshot a grant for one execution
func (g *Grant) Clone() *Grant {
	if g == nil {
		return nil
	}
	c := *g
	c.Permissions = append([]string(nil), g.Permissions...)
	return &c
}

// Source names where an authorization decision came from
type Source string

const (
	SourceNone     Source = "none"
	SourceInactive Source = "inactive"
	SourceExplicit Source = "explicit"
	SourceRole     Source = "role"
)
