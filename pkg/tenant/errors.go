package tenant

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a tenant id is unknown
	ErrNotFound = errors.New("tenant not found")

	// ErrInactive is returned when a tenant exists but cannot be served
	ErrInactive = errors.New("tenant inactive")

	// ErrInvalidStatus is returned for status values outside the enumeration
	ErrInvalidStatus = errors.New("invalid tenant status")

	// ErrInvalidConfig is returned for malformed config entries
	ErrInvalidConfig = errors.New("invalid tenant config")

	// ErrLimitExceeded is returned when an operation would exceed a tenant limit
	ErrLimitExceeded = errors.New("tenant limit exceeded")
)

// NotFoundError reports an unknown tenant
type NotFoundError struct {
	TenantID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tenant %q not found", e.TenantID)
}

// Is reports whether target is ErrNotFound
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InactiveError reports a tenant that exists but is not serviceable
type InactiveError struct {
	TenantID string
	Status   Status
}

func (e *InactiveError) Error() string {
	if e.Status == StatusTrial {
		return fmt.Sprintf("tenant %q trial has ended", e.TenantID)
	}
	return fmt.Sprintf("tenant %q is %s", e.TenantID, e.Status)
}

// Is reports whether target is ErrInactive
func (e *InactiveError) Is(target error) bool {
	return target == ErrInactive
}

// LimitExceededError reports an operation that would exceed a tenant limit
type LimitExceededError struct {
	TenantID  string
	Resource  string
	Current   int64
	Requested int64
	Limit     int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("tenant %q limit exceeded for %s: %d + %d > %d",
		e.TenantID, e.Resource, e.Current, e.Requested, e.Limit)
}

// Is reports whether target is ErrLimitExceeded
func (e *LimitExceededError) Is(target error) bool {
	return target == ErrLimitExceeded
}

// IsNotFound checks if an error is a tenant not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInactive checks if an error is a tenant inactive error
func IsInactive(err error) bool {
	return errors.Is(err, ErrInactive)
}
