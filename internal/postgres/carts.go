package postgres

import (
	"context"
	"time"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const cartColumns = `id, tenant_id, user_id, guest_token, currency, status, expires_at, created_at, updated_at`

// GetCart picks the most recently touched checkoutable cart matching ref.
// Cart id takes precedence over user id, which takes precedence over the
// guest token.
func (q *queries) GetCart(ctx context.Context, tenantID uuid.UUID, ref domain.CartRef) (*domain.Cart, error) {
	var (
		match string
		arg   any
	)
	switch {
	case ref.CartID != uuid.Nil:
		match, arg = "id = $2", ref.CartID
	case ref.UserID != uuid.Nil:
		match, arg = "user_id = $2", ref.UserID
	default:
		match, arg = "guest_token = $2", ref.GuestToken
	}

	var (
		c         domain.Cart
		status    string
		expiresAt *time.Time
	)
	err := q.db.QueryRow(ctx, `
		SELECT `+cartColumns+`
		FROM carts
		WHERE tenant_id = $1 AND `+match+`
		  AND status = 'active'
		  AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY updated_at DESC
		LIMIT 1`,
		tenantID, arg, q.now(),
	).Scan(&c.ID, &c.TenantID, &c.UserID, &c.GuestToken, &c.Currency, &status, &expiresAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	c.Status = domain.CartStatus(status)
	if expiresAt != nil {
		c.ExpiresAt = *expiresAt
	}

	rows, err := q.db.Query(ctx, `
		SELECT id, product_id, variant_id, category_id, sku, name, quantity, unit_price
		FROM cart_items
		WHERE tenant_id = $1 AND cart_id = $2
		ORDER BY created_at, id`,
		tenantID, c.ID,
	)
	if err != nil {
		return nil, err
	}
	c.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CartItem, error) {
		var (
			it       domain.CartItem
			category *uuid.UUID
		)
		err := row.Scan(&it.ID, &it.ProductID, &it.VariantID, &category, &it.SKU, &it.Name, &it.Quantity, &it.UnitPrice)
		if category != nil {
			it.CategoryID = *category
		}
		return it, err
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetCartStatus refuses to convert a cart that is no longer active, so two
// concurrent checkouts of one cart cannot both succeed.
func (q *queries) SetCartStatus(ctx context.Context, tenantID, cartID uuid.UUID, status domain.CartStatus) error {
	return affectedOne(q.db.Exec(ctx, `
		UPDATE carts
		SET status = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		  AND ($3 <> 'converted' OR status = 'active')`,
		tenantID, cartID, string(status),
	))
}

func (q *queries) GetStockLevels(ctx context.Context, tenantID uuid.UUID, variantIDs []uuid.UUID) (map[uuid.UUID]repository.StockLevel, error) {
	out := make(map[uuid.UUID]repository.StockLevel, len(variantIDs))
	if len(variantIDs) == 0 {
		return out, nil
	}
	rows, err := q.db.Query(ctx, `
		SELECT variant_id, on_hand, reserved
		FROM stock_levels
		WHERE tenant_id = $1 AND variant_id = ANY($2)`,
		tenantID, variantIDs,
	)
	if err != nil {
		return nil, err
	}
	levels, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (repository.StockLevel, error) {
		var l repository.StockLevel
		err := row.Scan(&l.VariantID, &l.OnHand, &l.Reserved)
		return l, err
	})
	if err != nil {
		return nil, err
	}
	for _, l := range levels {
		out[l.VariantID] = l
	}
	return out, nil
}

// CommitStock may drive on_hand negative; callers detect oversell from the
// returned level.
func (q *queries) CommitStock(ctx context.Context, tenantID, variantID uuid.UUID, quantity int) (repository.StockLevel, error) {
	var l repository.StockLevel
	err := q.db.QueryRow(ctx, `
		UPDATE stock_levels
		SET on_hand = on_hand - $3, updated_at = NOW()
		WHERE tenant_id = $1 AND variant_id = $2
		RETURNING variant_id, on_hand, reserved`,
		tenantID, variantID, quantity,
	).Scan(&l.VariantID, &l.OnHand, &l.Reserved)
	return l, notFound(err)
}

// AbandonExpiredCarts marks every active cart that expired before the given
// instant as abandoned, across tenants.
func (s *Store) AbandonExpiredCarts(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE carts SET status = 'abandoned', updated_at = NOW()
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1`,
		before,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
