package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukerupert/kasse/internal/repository"
	"github.com/google/uuid"
)

// Resolver resolves tenants from request identifiers.
type Resolver interface {
	// ByIdentifier resolves a tenant by its public identifier (X-Tenant
	// header, subdomain or webhook path segment).
	ByIdentifier(ctx context.Context, identifier string) (*Tenant, error)

	// ByID resolves a tenant by ID.
	ByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
}

// Lookup is the slice of repository.Querier the resolver needs.
type Lookup interface {
	GetTenantByIdentifier(ctx context.Context, identifier string) (repository.Tenant, error)
	GetTenantByID(ctx context.Context, id uuid.UUID) (repository.Tenant, error)
}

// DBResolver implements Resolver using database queries.
type DBResolver struct {
	queries Lookup
}

// NewDBResolver creates a new database-backed tenant resolver.
func NewDBResolver(queries Lookup) *DBResolver {
	return &DBResolver{queries: queries}
}

// ByIdentifier resolves a tenant by identifier. Identifiers are lower case.
func (r *DBResolver) ByIdentifier(ctx context.Context, identifier string) (*Tenant, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return nil, ErrTenantNotFound
	}
	row, err := r.queries.GetTenantByIdentifier(ctx, identifier)
	if err != nil {
		return nil, lookupError(err)
	}
	return fromRow(row), nil
}

// ByID resolves a tenant by ID.
func (r *DBResolver) ByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	row, err := r.queries.GetTenantByID(ctx, id)
	if err != nil {
		return nil, lookupError(err)
	}
	return fromRow(row), nil
}

func lookupError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrTenantNotFound
	}
	return fmt.Errorf("resolve tenant: %w", err)
}

func fromRow(row repository.Tenant) *Tenant {
	return &Tenant{
		ID:         row.ID,
		Identifier: row.Identifier,
		Name:       row.Name,
		Status:     row.Status,
	}
}
