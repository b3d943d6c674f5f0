package rbac

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_JuniorAgent(t *testing.T) {
	g := &Grant{TenantID: "acme", UserID: "u1", Role: RoleJuniorAgent, Active: true}

	assert.True(t, Evaluate(g, "create", "policies"))
	assert.False(t, Evaluate(g, "approve", "policies"))
	assert.True(t, Evaluate(g, "update", "customers"))
	assert.False(t, Evaluate(g, "create", "campaigns"))
}

func TestEvaluate_Rules(t *testing.T) {
	tests := []struct {
		name       string
		grant      *Grant
		op, res    string
		want       bool
		wantSource Source
	}{
		{"no grant", nil, "read", "policies", false, SourceNone},
		{"inactive grant", &Grant{Role: RoleSuperAdmin}, "read", "policies", false, SourceInactive},
		{"super admin wildcard", &Grant{Role: RoleSuperAdmin, Active: true}, "delete", "anything", true, SourceRole},
		{"regional manager approves", &Grant{Role: RoleRegionalManager, Active: true}, "approve", "policies", true, SourceRole},
		{"support staff cannot create", &Grant{Role: RoleSupportStaff, Active: true}, "create", "customers", false, SourceRole},
		{"alias resolves", &Grant{Role: "insurance_provider_admin", Active: true}, "approve", "agents", true, SourceRole},
		{"unknown role denies", &Grant{Role: "intern", Active: true}, "read", "policies", false, SourceRole},
		{"explicit overrides role", &Grant{Role: RoleSuperAdmin, Active: true, Permissions: []string{"read:leads"}}, "delete", "leads", false, SourceExplicit},
		{"explicit grants beyond role", &Grant{Role: RoleSupportStaff, Active: true, Permissions: []string{"approve:policies"}}, "approve", "policies", true, SourceExplicit},
		{"explicit wildcard", &Grant{Role: RoleJuniorAgent, Active: true, Permissions: []string{"*"}}, "approve", "policies", true, SourceExplicit},
		{"resource:action form is not accepted", &Grant{Role: RoleJuniorAgent, Active: true, Permissions: []string{"policies:approve"}}, "approve", "policies", false, SourceExplicit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, source := EvaluateWithSource(tt.grant, tt.op, tt.res)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func TestEvaluate_Pure(t *testing.T) {
	g := &Grant{Role: RoleSeniorAgent, Active: true}
	checks := []struct{ op, res string }{
		{"create", "policies"}, {"approve", "policies"}, {"read", "analytics"}, {"delete", "customers"},
	}
	want := make([]bool, len(checks))
	for i, c := range checks {
		want[i] = Evaluate(g, c.op, c.res)
	}

	var wg sync.WaitGroup
	for n := 0; n < 50; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for k := range checks {
				i := (k + n) % len(checks)
				assert.Equal(t, want[i], Evaluate(g, checks[i].op, checks[i].res))
			}
		}(n)
	}
	wg.Wait()
}

func TestRoleTable(t *testing.T) {
	assert.Equal(t, []string{"*"}, RolePermissions(RoleSuperAdmin))
	assert.Equal(t, RolePermissions(RoleProviderAdmin), RolePermissions("insurance_provider_admin"))
	assert.Empty(t, RolePermissions("intern"))

	for _, role := range Roles() {
		for _, p := range RolePermissions(role) {
			if p == Wildcard {
				continue
			}
			assert.Regexp(t, `^[a-z_]+:[a-z_]+$`, p, "role %s", role)
		}
	}

	perms := RolePermissions(RoleJuniorAgent)
	perms[0] = "mutated"
	assert.NotContains(t, RolePermissions(RoleJuniorAgent), "mutated")
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("Insurance_Provider_Admin")
	assert.NoError(t, err)
	assert.Equal(t, RoleProviderAdmin, r)

	_, err = ParseRole("intern")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestGrant_Validate(t *testing.T) {
	assert.NoError(t, Grant{TenantID: "t", UserID: "u", Role: RoleJuniorAgent, Permissions: []string{"read:leads", "*"}}.Validate())
	assert.ErrorIs(t, Grant{UserID: "u", Role: RoleJuniorAgent}.Validate(), ErrInvalidGrant)
	assert.ErrorIs(t, Grant{TenantID: "t", UserID: "u", Role: "intern"}.Validate(), ErrInvalidRole)
	assert.ErrorIs(t, Grant{TenantID: "t", UserID: "u", Role: RoleJuniorAgent, Permissions: []string{"everything"}}.Validate(), ErrInvalidGrant)
}
