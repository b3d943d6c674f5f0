// Package cli provides the tenantctl command-line interface for operating
// the tenancy core.
//
// # Overview
//
// tenantctl talks to the same backends as the service, through the same
// components: every mutation goes through the admin paths so the shared
// cache tier and the invalidation channel see it.
//
// # Commands
//
// Schema:
//
//	tenantctl migrate
//
// Tenants:
//
//	tenantctl create-tenant -id acme -name "Acme Insurance" -plan professional -max-users 50
//	tenantctl get-tenant acme
//	tenantctl list-tenants -status active
//	tenantctl set-status acme suspended
//	tenantctl set-config -type int acme max_campaigns 20
//	tenantctl invalidate acme
//	tenantctl set-usage acme storage_gb 12
//	tenantctl check-limit -amount 5 acme users
//
// Grants:
//
//	tenantctl grant -role junior_agent acme alice
//	tenantctl revoke acme alice
//	tenantctl authorize acme alice create policies
//	tenantctl tenants-for alice
//
// Encryption:
//
//	tenantctl key-status acme
//	tenantctl hash "ABCDE1234F"
//	tenantctl verify "ABCDE1234F" "salt:hash"
//
// Audit:
//
//	tenantctl audit -since 24h acme
//	tenantctl audit -action role_assigned -format csv
//
// Mutating commands record an audit event whose actor is $USER.
//
// # Configuration
//
// Backends are configured exactly as for the service, through
// TENANCY_CONFIG_FILE and TENANCY_* environment variables. See package config.
package cli
