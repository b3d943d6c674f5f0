package rbac

// rolePermissions is the static role table
var rolePermissions = map[Role][]string{
	RoleSuperAdmin: {Wildcard},
	RoleProviderAdmin: {
		"read:users", "create:users", "update:users",
		"read:agents", "create:agents", "update:agents", "approve:agents",
		"read:policies", "create:policies", "update:policies", "approve:policies",
		"read:campaigns", "create:campaigns", "update:campaigns",
		"read:analytics", "generate:reports",
	},
	RoleRegionalManager: {
		"read:agents", "update:agents",
		"read:policies", "update:policies", "approve:policies",
		"read:campaigns", "create:campaigns",
		"read:analytics", "generate:reports",
	},
	RoleSeniorAgent: {
		"read:agents", "update:agents",
		"read:policies", "create:policies", "update:policies",
		"read:customers", "create:customers", "update:customers",
		"read:campaigns", "create:campaigns",
		"read:analytics",
	},
	RoleJuniorAgent: {
		"read:policies", "create:policies",
		"read:customers", "create:customers", "update:customers",
		"read:campaigns",
	},
	RoleSupportStaff: {
		"read:customers", "update:customers",
		"read:policies",
		"read:campaigns",
	},
}

// roleSets indexes rolePermissions for membership tests
var roleSets = func() map[Role]map[string]struct{} {
	sets := make(map[Role]map[string]struct{}, len(rolePermissions))
	for role, perms := range rolePermissions {
		set := make(map[string]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		sets[role] = set
	}
	sets[roleProviderAdminAlias] = sets[RoleProviderAdmin]
	return sets
}()

// RolePermissions returns a copy of the permissions of role; unknown roles have none
func RolePermissions(role Role) []string {
	if role == roleProviderAdminAlias {
		role = RoleProviderAdmin
	}
	return append([]string(nil), rolePermissions[role]...)
}

// Roles returns every role in the table
func Roles() []Role {
	return []Role{RoleSuperAdmin, RoleProviderAdmin, RoleRegionalManager, RoleSeniorAgent, RoleJuniorAgent, RoleSupportStaff}
}
