package postgres

import (
	"context"
	"time"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ruleRow holds the discount columns shared by coupons and campaigns.
type ruleRow struct {
	discountType string
	scope        string
	value        decimal.Decimal
	productIDs   []uuid.UUID
	categoryIDs  []uuid.UUID
}

func (r ruleRow) rule() domain.DiscountRule {
	return domain.DiscountRule{
		Type:        domain.DiscountType(r.discountType),
		Scope:       domain.DiscountScope(r.scope),
		Value:       r.value,
		ProductIDs:  r.productIDs,
		CategoryIDs: r.categoryIDs,
	}
}

func (q *queries) GetCouponByCode(ctx context.Context, tenantID uuid.UUID, code string) (*domain.Coupon, error) {
	var (
		c        domain.Coupon
		r        ruleRow
		minOrder decimal.NullDecimal
	)
	err := q.db.QueryRow(ctx, `
		SELECT id, tenant_id, code, discount_type, scope, value, product_ids, category_ids,
		       usage_limit, redemption_count, starts_at, expires_at, min_order_amount, active
		FROM coupons
		WHERE tenant_id = $1 AND code = $2`,
		tenantID, code,
	).Scan(
		&c.ID, &c.TenantID, &c.Code, &r.discountType, &r.scope, &r.value, &r.productIDs, &r.categoryIDs,
		&c.UsageLimit, &c.RedemptionCount, &c.StartsAt, &c.ExpiresAt, &minOrder, &c.Active,
	)
	if err != nil {
		return nil, notFound(err)
	}
	c.Rule = r.rule()
	if minOrder.Valid {
		c.MinOrderAmount = &minOrder.Decimal
	}
	return &c, nil
}

// ListActiveCampaigns returns campaigns running at the given instant, oldest
// first.
func (q *queries) ListActiveCampaigns(ctx context.Context, tenantID uuid.UUID, at time.Time) ([]domain.Campaign, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, tenant_id, name, discount_type, scope, value, product_ids, category_ids,
		       starts_at, ends_at, priority, active
		FROM campaigns
		WHERE tenant_id = $1 AND active
		  AND starts_at <= $2
		  AND (ends_at IS NULL OR ends_at > $2)
		ORDER BY starts_at, id`,
		tenantID, at,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Campaign, error) {
		var (
			c domain.Campaign
			r ruleRow
		)
		err := row.Scan(
			&c.ID, &c.TenantID, &c.Name, &r.discountType, &r.scope, &r.value, &r.productIDs, &r.categoryIDs,
			&c.StartsAt, &c.EndsAt, &c.Priority, &c.Active,
		)
		c.Rule = r.rule()
		return c, err
	})
}

func (q *queries) IncrementCouponRedemption(ctx context.Context, tenantID, couponID uuid.UUID) error {
	return affectedOne(q.db.Exec(ctx, `
		UPDATE coupons SET redemption_count = redemption_count + 1
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, couponID,
	))
}
