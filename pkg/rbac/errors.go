package rbac

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when a user may not perform an operation
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidRole is returned for roles outside the role table
	ErrInvalidRole = errors.New("invalid role")

	// ErrInvalidGrant is returned for grants missing their tenant or user
	ErrInvalidGrant = errors.New("invalid grant")
)

// DeniedError reports a denied authorization
type DeniedError struct {
	TenantID  string
	UserID    string
	Operation string
	Resource  string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission denied: user %q may not %s %s in tenant %q",
		e.UserID, e.Operation, e.Resource, e.TenantID)
}

// Is reports whether target is ErrPermissionDenied
func (e *DeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// IsPermissionDenied checks if an error is a permission denied error
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}
