package postgres

import (
	"context"

	"github.com/dukerupert/kasse/internal/repository"
	"github.com/google/uuid"
)

const tenantColumns = `id, identifier, name, status`

func (q *queries) GetTenantByIdentifier(ctx context.Context, identifier string) (repository.Tenant, error) {
	var t repository.Tenant
	err := q.db.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE identifier = $1`, identifier,
	).Scan(&t.ID, &t.Identifier, &t.Name, &t.Status)
	return t, notFound(err)
}

func (q *queries) GetTenantByID(ctx context.Context, id uuid.UUID) (repository.Tenant, error) {
	var t repository.Tenant
	err := q.db.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Identifier, &t.Name, &t.Status)
	return t, notFound(err)
}
