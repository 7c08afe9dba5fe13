package domain

import (
	"github.com/google/uuid"
)

// TenantRef is the explicit tenant argument every core operation receives.
// Identifier is the tenant's human-facing key (slug); it may be empty.
type TenantRef struct {
	ID         uuid.UUID
	Identifier string
}

// Validate returns ErrTenantRequired when no tenant id is set.
func (t TenantRef) Validate() error {
	if t.ID == uuid.Nil {
		return ErrTenantRequired
	}
	return nil
}

// String returns the identifier when present, otherwise the id.
func (t TenantRef) String() string {
	if t.Identifier != "" {
		return t.Identifier
	}
	return t.ID.String()
}
