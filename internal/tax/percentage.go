package tax

import (
	"context"
	"strings"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/shopspring/decimal"
)

// Rule is a flat rate for a country, optionally narrowed to one region.
type Rule struct {
	ID      string
	Country string
	// Region is empty for a country-wide rule.
	Region          string
	Rate            decimal.Decimal
	IncludeShipping bool
}

// PercentageCalculator applies the most specific matching rule: country and
// region, then country, then the default rate.
type PercentageCalculator struct {
	defaultRate     decimal.Decimal
	defaultShipping bool
	rules           []Rule
}

// NewPercentageCalculator creates a percentage-based tax calculator. rate is
// a fraction, e.g. 0.08 for 8%. The default rate taxes shipping.
func NewPercentageCalculator(rate decimal.Decimal, rules ...Rule) (*PercentageCalculator, error) {
	if !validRate(rate) {
		return nil, ErrInvalidRate
	}
	seen := make(map[string]bool, len(rules))
	for i := range rules {
		if !validRate(rules[i].Rate) {
			return nil, domain.Errorf(domain.EINVALID, "tax.new_percentage", "Tax rule %s has an invalid rate", rules[i].ID)
		}
		if seen[rules[i].ID] {
			return nil, ErrDuplicateRule
		}
		seen[rules[i].ID] = true
		rules[i].Country = strings.ToUpper(rules[i].Country)
		rules[i].Region = strings.ToUpper(rules[i].Region)
	}
	return &PercentageCalculator{defaultRate: rate, defaultShipping: true, rules: rules}, nil
}

func validRate(r decimal.Decimal) bool {
	return !r.IsNegative() && r.LessThanOrEqual(decimal.NewFromInt(1))
}

func (c *PercentageCalculator) match(addr domain.Address) *Rule {
	country := strings.ToUpper(addr.Country)
	region := strings.ToUpper(addr.Region)

	var countryWide *Rule
	for i := range c.rules {
		r := &c.rules[i]
		if r.Country != country {
			continue
		}
		if r.Region == "" {
			if countryWide == nil {
				countryWide = r
			}
			continue
		}
		if r.Region == region {
			return r
		}
	}
	return countryWide
}

// Calculate computes round((taxable [+ shipping]) * rate).
func (c *PercentageCalculator) Calculate(_ context.Context, params Params) (*Result, error) {
	if params.Taxable.IsNegative() || params.Shipping.IsNegative() {
		return nil, ErrNegativeAmount
	}

	rate, withShipping, ruleID := c.defaultRate, c.defaultShipping, ""
	if r := c.match(params.Address); r != nil {
		rate, withShipping, ruleID = r.Rate, r.IncludeShipping, r.ID
	}

	base := params.Taxable
	if withShipping {
		base = base.Add(params.Shipping)
	}

	return &Result{
		Amount:        domain.RoundMoney(base.Mul(rate)),
		Currency:      params.Currency,
		AppliedRuleID: ruleID,
		Rate:          rate,
	}, nil
}
