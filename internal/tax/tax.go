package tax

import (
	"context"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/shopspring/decimal"
)

// Calculator defines the interface for tax calculation.
// Implementations: PercentageCalculator, NoTaxCalculator
type Calculator interface {
	// Calculate computes tax on the discounted taxable amount and shipping.
	Calculate(ctx context.Context, params Params) (*Result, error)
}

// Params contains all information needed for tax calculation.
type Params struct {
	// Taxable is the order subtotal after discounts.
	Taxable  decimal.Decimal
	Shipping decimal.Decimal
	Currency string
	Address  domain.Address
}

// Result contains the calculated tax amount.
type Result struct {
	Amount   decimal.Decimal
	Currency string
	// AppliedRuleID names the rule that produced Amount, empty when none did.
	AppliedRuleID string
	Rate          decimal.Decimal
}

// CalculatorFunc adapts a function to the Calculator interface.
type CalculatorFunc func(ctx context.Context, params Params) (*Result, error)

func (f CalculatorFunc) Calculate(ctx context.Context, params Params) (*Result, error) {
	return f(ctx, params)
}
