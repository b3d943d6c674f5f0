package execution

import (
	"errors"
	"fmt"
)

var (
	// ErrCrossTenant is returned when a run is started for a tenant other
	// than the one already bound in the context.
	ErrCrossTenant = errors.New("cross-tenant execution")

	// ErrInvalidRequest is returned for requests missing a tenant, user or operation
	ErrInvalidRequest = errors.New("invalid execution request")

	// ErrUnauthenticated is returned at the HTTP edge when no authenticated
	// user is present in the request context
	ErrUnauthenticated = errors.New("no authenticated user")
)

// CrossTenantError reports a nested run that tried to switch tenants
type CrossTenantError struct {
	Bound     string
	Requested string
}

func (e *CrossTenantError) Error() string {
	return fmt.Sprintf("cannot run for tenant %q inside a run bound to tenant %q", e.Requested, e.Bound)
}

// Is reports whether target is ErrCrossTenant
func (e *CrossTenantError) Is(target error) bool {
	return target == ErrCrossTenant
}
