package tenant

import "errors"

var (
	// ErrTenantNotFound is returned when no tenant matches the identifier or id.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantInactive is returned when a tenant exists but is not in active status.
	ErrTenantInactive = errors.New("tenant is not active")
)
