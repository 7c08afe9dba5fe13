package tenant

import (
	"context"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/google/uuid"
)

type contextKey string

const tenantContextKey contextKey = "tenant"

// Tenant is a resolved tenant.
type Tenant struct {
	ID         uuid.UUID
	Identifier string
	Name       string
	Status     string // active, suspended, cancelled
}

// Ref returns the reference the checkout core takes as an explicit argument.
func (t *Tenant) Ref() domain.TenantRef {
	if t == nil {
		return domain.TenantRef{}
	}
	return domain.TenantRef{ID: t.ID, Identifier: t.Identifier}
}

// IsActive returns true if the tenant status is "active".
func (t *Tenant) IsActive() bool {
	return t != nil && t.Status == "active"
}

// NewContext returns a new context with the tenant attached.
func NewContext(ctx context.Context, t *Tenant) context.Context {
	return context.WithValue(ctx, tenantContextKey, t)
}

// FromContext extracts the tenant from the context.
// Returns nil if no tenant is present.
func FromContext(ctx context.Context) *Tenant {
	t, ok := ctx.Value(tenantContextKey).(*Tenant)
	if !ok {
		return nil
	}
	return t
}

// RefFromContext returns the tenant reference in ctx, or the zero ref which
// the core rejects with domain.ErrTenantRequired.
func RefFromContext(ctx context.Context) domain.TenantRef {
	return FromContext(ctx).Ref()
}
