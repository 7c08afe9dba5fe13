package promotion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/repository/memstore"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptrTime(t time.Time) *time.Time { return &t }

func cartRule(typ domain.DiscountType, value string) domain.DiscountRule {
	return domain.DiscountRule{Type: typ, Scope: domain.ScopeCart, Value: d(value)}
}

func runningCampaign(name string, rule domain.DiscountRule) domain.Campaign {
	return domain.Campaign{
		ID:       uuid.New(),
		Name:     name,
		Rule:     rule,
		StartsAt: testNow.Add(-24 * time.Hour),
		Active:   true,
	}
}

func activeCoupon(code string, rule domain.DiscountRule) *domain.Coupon {
	return &domain.Coupon{ID: uuid.New(), Code: code, Rule: rule, Active: true}
}

func TestEvaluate_CampaignBeatsSmallerCoupon(t *testing.T) {
	items := []Item{{ProductID: uuid.New(), LineTotal: d("100.00")}}
	coupon := activeCoupon("SAVE5", cartRule(domain.DiscountFixedAmount, "5"))
	campaign := runningCampaign("Summer", cartRule(domain.DiscountFixedAmount, "15"))

	res := Evaluate(items, d("100.00"), "SAVE5", coupon, []domain.Campaign{campaign}, testNow)

	assert.Equal(t, "15.00", res.DiscountAmount.StringFixed(2))
	assert.Nil(t, res.AppliedCouponID)
	require.NotNil(t, res.AppliedCampaignID)
	assert.Equal(t, campaign.ID, *res.AppliedCampaignID)

	require.Len(t, res.Breakdown, 2)
	assert.Equal(t, ReasonOutranked, res.Breakdown[0].Reason)
	assert.False(t, res.Breakdown[0].Applied)
	assert.True(t, res.Breakdown[1].Applied)
}

func TestEvaluate_CouponBeatsSmallerCampaign(t *testing.T) {
	items := []Item{{ProductID: uuid.New(), LineTotal: d("80.00")}}
	coupon := activeCoupon("TWENTY", cartRule(domain.DiscountPercentage, "20"))
	campaign := runningCampaign("Tiny", cartRule(domain.DiscountFixedAmount, "3"))

	res := Evaluate(items, d("80.00"), "TWENTY", coupon, []domain.Campaign{campaign}, testNow)

	assert.Equal(t, "16.00", res.DiscountAmount.StringFixed(2))
	require.NotNil(t, res.AppliedCouponID)
	assert.Equal(t, coupon.ID, *res.AppliedCouponID)
	assert.Nil(t, res.AppliedCampaignID)
}

func TestEvaluate_ExactTieGoesToCampaign(t *testing.T) {
	items := []Item{{ProductID: uuid.New(), LineTotal: d("40.00")}}
	coupon := activeCoupon("TEN", cartRule(domain.DiscountFixedAmount, "10"))
	campaign := runningCampaign("Ten off", cartRule(domain.DiscountPercentage, "25"))

	res := Evaluate(items, d("40.00"), "TEN", coupon, []domain.Campaign{campaign}, testNow)

	assert.Equal(t, "10.00", res.DiscountAmount.StringFixed(2))
	assert.Nil(t, res.AppliedCouponID)
	require.NotNil(t, res.AppliedCampaignID)
}

func TestEvaluate_ExpiredCouponContributesZero(t *testing.T) {
	items := []Item{{ProductID: uuid.New(), LineTotal: d("60.00")}}
	coupon := activeCoupon("OLD", cartRule(domain.DiscountFixedAmount, "10"))
	coupon.ExpiresAt = ptrTime(testNow.Add(-time.Hour))

	res := Evaluate(items, d("60.00"), "OLD", coupon, nil, testNow)

	assert.True(t, res.DiscountAmount.IsZero())
	assert.Nil(t, res.AppliedCouponID)
	require.Len(t, res.Breakdown, 1)
	assert.Equal(t, ReasonExpired, res.Breakdown[0].Reason)
	assert.True(t, res.Breakdown[0].Amount.IsZero())
}

func TestEvaluate_CategoryCampaignUsesScopedSubtotal(t *testing.T) {
	coffee := uuid.New()
	items := []Item{
		{ProductID: uuid.New(), CategoryID: coffee, LineTotal: d("50.00")},
		{ProductID: uuid.New(), CategoryID: uuid.New(), LineTotal: d("50.00")},
	}
	campaign := runningCampaign("Coffee week", domain.DiscountRule{
		Type:        domain.DiscountPercentage,
		Scope:       domain.ScopeCategory,
		Value:       d("30"),
		CategoryIDs: []uuid.UUID{coffee},
	})

	res := Evaluate(items, d("100.00"), "", nil, []domain.Campaign{campaign}, testNow)

	assert.Equal(t, "15.00", res.DiscountAmount.StringFixed(2))
}

func TestEvaluate_CouponIneligibility(t *testing.T) {
	product := uuid.New()
	items := []Item{{ProductID: product, LineTotal: d("30.00")}}
	limit := 2
	minimum := d("50.00")

	tests := []struct {
		name   string
		coupon *domain.Coupon
		reason string
	}{
		{"unknown code", nil, ReasonNotFound},
		{"inactive", func() *domain.Coupon {
			c := activeCoupon("X", cartRule(domain.DiscountFixedAmount, "5"))
			c.Active = false
			return c
		}(), ReasonInactive},
		{"not started", func() *domain.Coupon {
			c := activeCoupon("X", cartRule(domain.DiscountFixedAmount, "5"))
			c.StartsAt = ptrTime(testNow.Add(time.Hour))
			return c
		}(), ReasonNotStarted},
		{"expires exactly now", func() *domain.Coupon {
			c := activeCoupon("X", cartRule(domain.DiscountFixedAmount, "5"))
			c.ExpiresAt = ptrTime(testNow)
			return c
		}(), ReasonExpired},
		{"usage limit reached", func() *domain.Coupon {
			c := activeCoupon("X", cartRule(domain.DiscountFixedAmount, "5"))
			c.UsageLimit = &limit
			c.RedemptionCount = 2
			return c
		}(), ReasonUsageLimit},
		{"below minimum", func() *domain.Coupon {
			c := activeCoupon("X", cartRule(domain.DiscountFixedAmount, "5"))
			c.MinOrderAmount = &minimum
			return c
		}(), ReasonBelowMinimum},
		{"scope misses every line", activeCoupon("X", domain.DiscountRule{
			Type:       domain.DiscountFixedAmount,
			Scope:      domain.ScopeProduct,
			Value:      d("5"),
			ProductIDs: []uuid.UUID{uuid.New()},
		}), ReasonNotApplicable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate(items, d("30.00"), "X", tt.coupon, nil, testNow)
			assert.True(t, res.DiscountAmount.IsZero())
			assert.Nil(t, res.AppliedCouponID)
			require.Len(t, res.Breakdown, 1)
			assert.Equal(t, tt.reason, res.Breakdown[0].Reason)
		})
	}
}

func TestEvaluate_FixedAmountCappedAtScopedSubtotal(t *testing.T) {
	product := uuid.New()
	items := []Item{
		{ProductID: product, LineTotal: d("12.50")},
		{ProductID: uuid.New(), LineTotal: d("100.00")},
	}
	coupon := activeCoupon("BIG", domain.DiscountRule{
		Type:       domain.DiscountFixedAmount,
		Scope:      domain.ScopeProduct,
		Value:      d("40"),
		ProductIDs: []uuid.UUID{product},
	})

	res := Evaluate(items, d("112.50"), "BIG", coupon, nil, testNow)

	assert.Equal(t, "12.50", res.DiscountAmount.StringFixed(2))
}

func TestEvaluate_PercentageRoundsPerLine(t *testing.T) {
	var items []Item
	for i := 0; i < 3; i++ {
		items = append(items, Item{ProductID: uuid.New(), LineTotal: d("0.05")})
	}
	campaign := runningCampaign("Half", cartRule(domain.DiscountPercentage, "50"))

	res := Evaluate(items, d("0.15"), "", nil, []domain.Campaign{campaign}, testNow)

	// each line contributes round(0.025) = 0.03
	assert.Equal(t, "0.09", res.DiscountAmount.StringFixed(2))
}

func TestEvaluate_DiscountNeverExceedsScopedSubtotal(t *testing.T) {
	values := []string{"0", "1", "33.333", "99.99", "100", "150", "-20"}
	totals := []string{"0.01", "0.99", "19.99", "250.00"}

	for _, typ := range []domain.DiscountType{domain.DiscountPercentage, domain.DiscountFixedAmount} {
		for _, v := range values {
			for _, total := range totals {
				items := []Item{{ProductID: uuid.New(), LineTotal: d(total)}}
				amt, matched := Discount(cartRule(typ, v), items)
				require.True(t, matched)
				assert.False(t, amt.GreaterThan(d(total)), "type=%s value=%s total=%s amount=%s", typ, v, total, amt)
				assert.False(t, amt.IsNegative(), "type=%s value=%s total=%s amount=%s", typ, v, total, amt)
			}
		}
	}
}

func TestEvaluate_CampaignOutsideWindowIgnored(t *testing.T) {
	items := []Item{{ProductID: uuid.New(), LineTotal: d("20.00")}}
	ended := runningCampaign("Ended", cartRule(domain.DiscountFixedAmount, "5"))
	ended.EndsAt = ptrTime(testNow)
	future := runningCampaign("Future", cartRule(domain.DiscountFixedAmount, "5"))
	future.StartsAt = testNow.Add(time.Minute)

	res := Evaluate(items, d("20.00"), "", nil, []domain.Campaign{ended, future}, testNow)

	assert.True(t, res.DiscountAmount.IsZero())
	assert.Nil(t, res.AppliedCampaignID)
	assert.Empty(t, res.Breakdown)
}

func TestEvaluate_CampaignTieUsesPriority(t *testing.T) {
	items := []Item{{ProductID: uuid.New(), LineTotal: d("20.00")}}
	low := runningCampaign("Low", cartRule(domain.DiscountFixedAmount, "5"))
	high := runningCampaign("High", cartRule(domain.DiscountFixedAmount, "5"))
	high.Priority = 10

	res := Evaluate(items, d("20.00"), "", nil, []domain.Campaign{low, high}, testNow)

	require.NotNil(t, res.AppliedCampaignID)
	assert.Equal(t, high.ID, *res.AppliedCampaignID)
}

func TestEngine_LoadsCouponAndCampaigns(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(func() time.Time { return testNow })
	tenantID := uuid.New()

	coupon := activeCoupon("WELCOME", cartRule(domain.DiscountFixedAmount, "7.50"))
	coupon.TenantID = tenantID
	store.AddCoupon(*coupon)

	other := activeCoupon("WELCOME", cartRule(domain.DiscountFixedAmount, "50"))
	other.TenantID = uuid.New()
	store.AddCoupon(*other)

	engine := NewEngine(store, nil, WithClock(func() time.Time { return testNow }))

	res, err := engine.Evaluate(ctx, Request{
		TenantID:   tenantID,
		Items:      []Item{{ProductID: uuid.New(), LineTotal: d("30.00")}},
		Currency:   "USD",
		CouponCode: "WELCOME",
	})
	require.NoError(t, err)
	assert.Equal(t, "7.50", res.DiscountAmount.StringFixed(2))
	require.NotNil(t, res.AppliedCouponID)
	assert.Equal(t, coupon.ID, *res.AppliedCouponID)

	res, err = engine.Evaluate(ctx, Request{
		TenantID:   tenantID,
		Items:      []Item{{ProductID: uuid.New(), LineTotal: d("30.00")}},
		CouponCode: "welcome",
	})
	require.NoError(t, err)
	assert.True(t, res.DiscountAmount.IsZero(), "codes are case-sensitive")
}

type failingStore struct{}

func (failingStore) GetCouponByCode(context.Context, uuid.UUID, string) (*domain.Coupon, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) ListActiveCampaigns(context.Context, uuid.UUID, time.Time) ([]domain.Campaign, error) {
	return nil, nil
}

func TestEngine_StoreFailureIsInternal(t *testing.T) {
	engine := NewEngine(failingStore{}, nil)

	_, err := engine.Evaluate(context.Background(), Request{TenantID: uuid.New(), CouponCode: "X"})

	assert.True(t, domain.IsCode(err, domain.EINTERNAL))
}

func TestEngine_RequiresTenant(t *testing.T) {
	_, err := NewEngine(failingStore{}, nil).Evaluate(context.Background(), Request{})
	assert.ErrorIs(t, err, domain.ErrTenantRequired)
}
