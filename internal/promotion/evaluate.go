package promotion

import (
	"time"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reasons recorded on breakdown lines.
const (
	ReasonApplied       = "applied"
	ReasonNotFound      = "not_found"
	ReasonInactive      = "inactive"
	ReasonNotStarted    = "not_started"
	ReasonExpired       = "expired"
	ReasonUsageLimit    = "usage_limit_reached"
	ReasonBelowMinimum  = "below_minimum"
	ReasonNotApplicable = "not_applicable"
	ReasonOutranked     = "outranked"
)

// Source names which kind of promotion produced a breakdown line.
type Source string

const (
	SourceCoupon   Source = "coupon"
	SourceCampaign Source = "campaign"
)

// Item is the slice of a cart line the engine needs.
type Item struct {
	ProductID  uuid.UUID
	CategoryID uuid.UUID
	LineTotal  decimal.Decimal
}

// Line is one evaluated candidate in the result breakdown.
type Line struct {
	Source  Source          `json:"source"`
	ID      uuid.UUID       `json:"id"`
	Label   string          `json:"label"`
	Amount  decimal.Decimal `json:"amount"`
	Applied bool            `json:"applied"`
	Reason  string          `json:"reason"`
}

// Result is the outcome of an evaluation. At most one of AppliedCouponID and
// AppliedCampaignID is set.
type Result struct {
	DiscountAmount    decimal.Decimal
	Breakdown         []Line
	AppliedCouponID   *uuid.UUID
	AppliedCampaignID *uuid.UUID
}

var hundred = decimal.NewFromInt(100)

// Discount computes the amount a rule takes off items. matched is false when
// no line falls in the rule's scope. The result never exceeds the scoped
// subtotal and is never negative.
func Discount(rule domain.DiscountRule, items []Item) (amount decimal.Decimal, matched bool) {
	scoped := decimal.Zero
	perLine := decimal.Zero

	pct := decimal.Max(decimal.Zero, decimal.Min(rule.Value, hundred))
	for _, it := range items {
		if !rule.Matches(it.ProductID, it.CategoryID) {
			continue
		}
		matched = true
		scoped = scoped.Add(it.LineTotal)
		if rule.Type == domain.DiscountPercentage {
			perLine = perLine.Add(domain.RoundMoney(it.LineTotal.Mul(pct).Div(hundred)))
		}
	}
	if !matched {
		return decimal.Zero, false
	}

	switch rule.Type {
	case domain.DiscountPercentage:
		amount = perLine
	case domain.DiscountFixedAmount:
		amount = domain.RoundMoney(rule.Value)
	default:
		return decimal.Zero, true
	}

	amount = decimal.Min(amount, scoped)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount, true
}

// couponEligibility returns ReasonApplied when the coupon may be used.
func couponEligibility(c *domain.Coupon, subtotal decimal.Decimal, now time.Time) string {
	switch {
	case !c.Active:
		return ReasonInactive
	case c.StartsAt != nil && now.Before(*c.StartsAt):
		return ReasonNotStarted
	case c.ExpiresAt != nil && !now.Before(*c.ExpiresAt):
		return ReasonExpired
	case c.UsageLimit != nil && c.RedemptionCount >= *c.UsageLimit:
		return ReasonUsageLimit
	case c.MinOrderAmount != nil && subtotal.LessThan(*c.MinOrderAmount):
		return ReasonBelowMinimum
	}
	return ReasonApplied
}

// Evaluate picks the single best discount. code is the coupon code the
// customer typed; coupon is nil when it did not resolve. campaigns may
// include inactive or out-of-window entries; they are filtered here.
func Evaluate(items []Item, subtotal decimal.Decimal, code string, coupon *domain.Coupon, campaigns []domain.Campaign, now time.Time) *Result {
	res := &Result{DiscountAmount: decimal.Zero}

	var couponLine *Line
	if code != "" {
		couponLine = &Line{Source: SourceCoupon, Label: code, Amount: decimal.Zero}
		if coupon == nil {
			couponLine.Reason = ReasonNotFound
		} else {
			couponLine.ID = coupon.ID
			couponLine.Reason = couponEligibility(coupon, subtotal, now)
			if couponLine.Reason == ReasonApplied {
				amt, matched := Discount(coupon.Rule, items)
				if !matched || amt.IsZero() {
					couponLine.Reason = ReasonNotApplicable
				} else {
					couponLine.Amount = amt
				}
			}
		}
	}

	var best *domain.Campaign
	bestAmount := decimal.Zero
	for i := range campaigns {
		c := &campaigns[i]
		if !c.Active || !c.RunningAt(now) {
			continue
		}
		amt, matched := Discount(c.Rule, items)
		if !matched || amt.IsZero() {
			continue
		}
		if best == nil || amt.GreaterThan(bestAmount) || (amt.Equal(bestAmount) && outranks(c, best)) {
			best, bestAmount = c, amt
		}
	}

	var campaignLine *Line
	if best != nil {
		campaignLine = &Line{Source: SourceCampaign, ID: best.ID, Label: best.Name, Amount: bestAmount, Reason: ReasonApplied}
	}

	couponWins := couponLine != nil && couponLine.Reason == ReasonApplied &&
		(campaignLine == nil || couponLine.Amount.GreaterThan(campaignLine.Amount))

	switch {
	case couponWins:
		couponLine.Applied = true
		res.DiscountAmount = couponLine.Amount
		id := couponLine.ID
		res.AppliedCouponID = &id
		if campaignLine != nil {
			campaignLine.Reason = ReasonOutranked
		}
	case campaignLine != nil:
		campaignLine.Applied = true
		res.DiscountAmount = campaignLine.Amount
		id := campaignLine.ID
		res.AppliedCampaignID = &id
		if couponLine != nil && couponLine.Reason == ReasonApplied {
			couponLine.Reason = ReasonOutranked
		}
	}

	if couponLine != nil {
		if !couponLine.Applied && couponLine.Reason != ReasonOutranked {
			couponLine.Amount = decimal.Zero
		}
		res.Breakdown = append(res.Breakdown, *couponLine)
	}
	if campaignLine != nil {
		res.Breakdown = append(res.Breakdown, *campaignLine)
	}
	return res
}

// outranks breaks an exact tie between two campaigns: higher priority first,
// then the one that started earlier.
func outranks(a, b *domain.Campaign) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.StartsAt.Before(b.StartsAt)
}
