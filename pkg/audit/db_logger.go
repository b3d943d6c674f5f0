package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DBLogger writes audit events to the audit_log table of the system of
// record. The table is created by the storage migrations.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log inserts event
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	details := "{}"
	if len(event.Details) > 0 {
		data, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
		details = string(data)
	}

	query := `
		INSERT INTO audit_log (
			id, occurred_at, action, status,
			tenant_id, actor_id, target_user_id,
			request_id, ip_address, user_agent,
			message, error_message, details
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10,
			$11, $12, $13
		)
	`
	_, err := l.db.ExecContext(ctx, query,
		event.ID, event.Timestamp.UTC(), string(event.Action), string(event.Status),
		event.TenantID, event.ActorID, event.TargetUserID,
		event.RequestID, event.IPAddress, event.UserAgent,
		event.Message, event.ErrorMessage, details,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Search returns events matching filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.TenantID != "" {
		where = append(where, "tenant_id = "+arg(filter.TenantID))
	}
	if filter.ActorID != "" {
		where = append(where, "actor_id = "+arg(filter.ActorID))
	}
	if len(filter.Actions) > 0 {
		placeholders := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			placeholders[i] = arg(string(a))
		}
		where = append(where, "action IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Since != nil {
		where = append(where, "occurred_at >= "+arg(filter.Since.UTC()))
	}
	if filter.Until != nil {
		where = append(where, "occurred_at <= "+arg(filter.Until.UTC()))
	}

	query := `
		SELECT
			id, occurred_at, action, status,
			tenant_id, actor_id, target_user_id,
			request_id, ip_address, user_agent,
			message, error_message, details
		FROM audit_log`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY occurred_at DESC, id DESC LIMIT " + arg(filter.limit())

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit log: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		var (
			e              Event
			action, status string
			details        []byte
		)
		err := rows.Scan(
			&e.ID, &e.Timestamp, &action, &status,
			&e.TenantID, &e.ActorID, &e.TargetUserID,
			&e.RequestID, &e.IPAddress, &e.UserAgent,
			&e.Message, &e.ErrorMessage, &details,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Action = Action(action)
		e.Status = Status(status)
		e.Timestamp = e.Timestamp.UTC()
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details of %s: %w", e.ID, err)
			}
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}
	return events, nil
}

// Purge deletes events older than before and returns how many were removed
func (l *DBLogger) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM audit_log WHERE occurred_at < $1", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged audit events: %w", err)
	}
	return n, nil
}

// Close is a no-op; the connection pool belongs to the caller
func (l *DBLogger) Close() error {
	return nil
}

var (
	_ Logger   = (*DBLogger)(nil)
	_ Searcher = (*DBLogger)(nil)
)
