// Package audit keeps the trail of tenancy mutations.
//
// # Overview
//
// Grant changes, tenant status and config changes, invalidations, key
// rotations and cache clears each produce an Event naming the tenant, the
// actor and, for grants, the affected user. Failed attempts are recorded
// too, with their error.
//
// # Destinations
//
// DBLogger writes to the audit_log table of the system of record and can
// search and purge it. FileLogger appends JSON lines to audit.log and
// rotates by size. MemoryLogger keeps recent events when no database is
// configured. MultiLogger fans one event out to several of them.
//
// # Usage Example
//
//	trail := audit.NewTrail(audit.NewMultiLogger(dbLogger, fileLogger), logger)
//
//	err := grants.Grant(ctx, g)
//	e := audit.NewEvent(ctx, r, audit.ActionRoleAssigned, g.TenantID, err)
//	e.TargetUserID = g.UserID
//	e.Details["role"] = string(g.Role)
//	trail.Record(ctx, e)
//
// Searching and exporting:
//
//	events, err := dbLogger.Search(ctx, audit.SearchFilter{TenantID: "acme", Limit: 50})
//	err = audit.Export(w, events, audit.ExportFormatCSV)
package audit
