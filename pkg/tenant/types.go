package tenant

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a tenant
type Status string

const (
	StatusActive    Status = "active"
	StatusTrial     Status = "trial"
	StatusSuspended Status = "suspended"
	StatusInactive  Status = "inactive"
	StatusCancelled Status = "cancelled"
)

// ParseStatus validates s against the status enumeration
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusActive, StatusTrial, StatusSuspended, StatusInactive, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// Serviceable reports whether a tenant in this status may run work at now.
// Trials are serviceable until trialEndsAt; a trial without an end date is open.
func (s Status) Serviceable(now time.Time, trialEndsAt *time.Time) bool {
	switch s {
	case StatusActive:
		return true
	case StatusTrial:
		return trialEndsAt == nil || now.Before(*trialEndsAt)
	default:
		return false
	}
}

// Plan is a subscription plan
type Plan string

const (
	PlanBasic        Plan = "basic"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
)

// Normalize maps empty and unknown plans to PlanBasic
func (p Plan) Normalize() Plan {
	switch p {
	case PlanBasic, PlanProfessional, PlanEnterprise:
		return p
	default:
		return PlanBasic
	}
}

// Limit resource names accepted by Limits.For and Limiter.Check
const (
	ResourceUsers           = "users"
	ResourceStorageGB       = "storage_gb"
	ResourceAPICallsPerHour = "api_calls_per_hour"
)

// Limits are the numeric quotas of a tenant. Zero means unlimited.
type Limits struct {
	MaxUsers       int64 `json:"users"`
	StorageLimitGB int64 `json:"storage_gb"`
	APIRateLimit   int64 `json:"api_calls_per_hour"`
}

// For returns the limit for resource and whether the resource is limited.
func (l Limits) For(resource string) (int64, bool) {
	var v int64
	switch resource {
	case ResourceUsers:
		v = l.MaxUsers
	case ResourceStorageGB:
		v = l.StorageLimitGB
	case ResourceAPICallsPerHour:
		v = l.APIRateLimit
	default:
		return 0, false
	}
	return v, v > 0
}

// Contact holds the tenant's contact details
type Contact struct {
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// Tenant is the system-of-record view of one tenant. Tenants are never
// deleted, only moved between statuses.
type Tenant struct {
	ID          string         `json:"id"`
	Code        string         `json:"code"`
	Name        string         `json:"name"`
	Type        string         `json:"type,omitempty"`
	Status      Status         `json:"status"`
	Plan        Plan           `json:"plan"`
	TrialEndsAt *time.Time     `json:"trial_ends_at,omitempty"`
	Limits      Limits         `json:"limits"`
	Contact     Contact        `json:"contact"`
	Branding    map[string]any `json:"branding,omitempty"`
	Theme       map[string]any `json:"theme,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ConfigType is the declared type of a config value
type ConfigType string

const (
	ConfigString ConfigType = "string"
	ConfigInt    ConfigType = "int"
	ConfigBool   ConfigType = "bool"
	ConfigJSON   ConfigType = "json"
	ConfigList   ConfigType = "list"
)

// ConfigEntry is one typed configuration value. Keys are unique per tenant.
type ConfigEntry struct {
	Key   string     `json:"key"`
	Type  ConfigType `json:"type"`
	Value any        `json:"value"`
}

// Validate checks the key and type of the entry
func (e ConfigEntry) Validate() error {
	if strings.TrimSpace(e.Key) == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidConfig)
	}
	switch e.Type {
	case ConfigString, ConfigInt, ConfigBool, ConfigJSON, ConfigList:
		return nil
	case "":
		return fmt.Errorf("%w: %s has no type", ErrInvalidConfig, e.Key)
	default:
		return fmt.Errorf("%w: %s has unknown type %q", ErrInvalidConfig, e.Key, e.Type)
	}
}

// Context is the resolved, cacheable view of a tenant. Values returned by
// the Registry are shared and must be treated as read-only.
type Context struct {
	Tenant     Tenant         `json:"tenant"`
	Config     map[string]any `json:"config"`
	Features   Features       `json:"features"`
	ResolvedAt time.Time      `json:"resolved_at"`
}

// ID returns the tenant id
func (c *Context) ID() string {
	return c.Tenant.ID
}

// Limits returns the tenant limits
func (c *Context) Limits() Limits {
	return c.Tenant.Limits
}

// HasFeature reports whether name is in the resolved feature set
func (c *Context) HasFeature(name string) bool {
	for _, f := range c.Features.Enabled {
		if f == name {
			return true
		}
	}
	return false
}

// Serviceable reports whether the tenant may run work at now
func (c *Context) Serviceable(now time.Time) bool {
	return c.Tenant.Status.Serviceable(now, c.Tenant.TrialEndsAt)
}

// NewContext builds a Context from a tenant and its config entries
func NewContext(t Tenant, entries []ConfigEntry, now time.Time) *Context {
	cfg := make(map[string]any, len(entries))
	for _, e := range entries {
		cfg[e.Key] = e.Value
	}
	return &Context{
		Tenant:     t,
		Config:     cfg,
		Features:   ResolveFeatures(t.Plan, cfg[FeatureOverrideKey]),
		ResolvedAt: now,
	}
}
