package audit

import (
	"fmt"
	"strings"
	"time"
)

// Action names an audited tenancy mutation
type Action string

const (
	// Grant actions
	ActionRoleAssigned Action = "role_assigned"
	ActionRoleRemoved  Action = "role_removed"

	// Tenant actions
	ActionTenantCreated       Action = "tenant_created"
	ActionTenantStatusChanged Action = "tenant_status_changed"
	ActionTenantConfigChanged Action = "tenant_config_changed"
	ActionTenantInvalidated   Action = "tenant_invalidated"
	ActionUsageSet            Action = "usage_set"

	// Key and cache actions
	ActionKeyRotated   Action = "key_rotated"
	ActionCacheCleared Action = "cache_cleared"
)

// ParseAction validates s against the known actions
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionRoleAssigned, ActionRoleRemoved,
		ActionTenantCreated, ActionTenantStatusChanged, ActionTenantConfigChanged,
		ActionTenantInvalidated, ActionUsageSet,
		ActionKeyRotated, ActionCacheCleared:
		return a, nil
	default:
		return "", fmt.Errorf("unknown audit action %q", s)
	}
}

// Status represents the outcome of an event
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Event is a single audit log entry
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Status    Status    `json:"status"`

	TenantID     string `json:"tenant_id,omitempty"`
	ActorID      string `json:"actor_id,omitempty"`
	TargetUserID string `json:"target_user_id,omitempty"`

	// Request context
	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// SearchFilter narrows a search. Zero fields match everything.
type SearchFilter struct {
	TenantID string
	ActorID  string
	Actions  []Action
	Since    *time.Time
	Until    *time.Time

	// Limit defaults to DefaultSearchLimit
	Limit int
}

// DefaultSearchLimit caps searches without a limit
const DefaultSearchLimit = 100

func (f SearchFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultSearchLimit
	}
	return f.Limit
}

// Matches reports whether e passes the filter
func (f SearchFilter) Matches(e *Event) bool {
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if e.Action == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	return true
}

// ExportFormat is the encoding of an export
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatNDJSON ExportFormat = "ndjson"
	ExportFormatCSV    ExportFormat = "csv"
)
