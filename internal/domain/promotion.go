package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DiscountType selects how a discount value is interpreted.
type DiscountType string

const (
	DiscountPercentage  DiscountType = "percentage"
	DiscountFixedAmount DiscountType = "fixed_amount"
)

// DiscountScope selects which lines a discount is computed against.
type DiscountScope string

const (
	ScopeCart     DiscountScope = "cart"
	ScopeProduct  DiscountScope = "product"
	ScopeCategory DiscountScope = "category"
)

// DiscountRule is the discount shape shared by coupons and campaigns.
type DiscountRule struct {
	Type        DiscountType
	Scope       DiscountScope
	Value       decimal.Decimal
	ProductIDs  []uuid.UUID
	CategoryIDs []uuid.UUID
}

// Matches reports whether a line with the given product and category falls
// inside the rule's scope.
func (r DiscountRule) Matches(productID, categoryID uuid.UUID) bool {
	switch r.Scope {
	case ScopeCart:
		return true
	case ScopeProduct:
		return slices.Contains(r.ProductIDs, productID)
	case ScopeCategory:
		return slices.Contains(r.CategoryIDs, categoryID)
	}
	return false
}

// Coupon is a customer-entered discount code. Codes are case-sensitive.
type Coupon struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	Code            string
	Rule            DiscountRule
	UsageLimit      *int
	RedemptionCount int
	StartsAt        *time.Time
	ExpiresAt       *time.Time
	MinOrderAmount  *decimal.Decimal
	Active          bool
}

// Campaign is a merchant-initiated promotion that needs no code.
type Campaign struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
	Rule     DiscountRule
	StartsAt time.Time
	EndsAt   *time.Time
	Priority int
	Active   bool
}

// RunningAt reports whether now falls in [StartsAt, EndsAt).
func (c Campaign) RunningAt(now time.Time) bool {
	if now.Before(c.StartsAt) {
		return false
	}
	return c.EndsAt == nil || now.Before(*c.EndsAt)
}
