// Package rbac answers "may user U perform operation O on resource R in tenant T".
//
// Permissions are strings of the form "operation:resource", for example
// "create:policies". A grant binds a user to a tenant with a role and an
// optional explicit permission set.
//
// # Evaluation
//
// Evaluate is pure:
//
//  1. no grant, or an inactive grant, denies
//  2. a non-empty explicit permission set is tested for "operation:resource" (or "*")
//  3. otherwise the role table decides
//
// The role table is data, not code:
//
//	super_admin       *
//	provider_admin    users, agents, policies (incl. approve), campaigns, analytics, reports
//	regional_manager  agents, policies (incl. approve), campaigns, analytics, reports
//	senior_agent      agents, policies, customers, campaigns, analytics
//	junior_agent      read/create policies, read/create/update customers, read campaigns
//	support_staff     read/update customers, read policies, read campaigns
//
// "insurance_provider_admin" is accepted as an alias of provider_admin.
//
// # Resolver
//
// Resolver loads grants from a GrantStore and memoizes them in the
// tenant-scoped cache under "grant:<user>" for a short TTL. Admin writes
// grants and purges the memo before returning.
package rbac
