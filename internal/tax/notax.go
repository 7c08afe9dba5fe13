package tax

import (
	"context"

	"github.com/shopspring/decimal"
)

// NoTaxCalculator returns zero tax for all calculations.
// Used by tenants that price tax-inclusive or sell into exempt regions.
type NoTaxCalculator struct{}

// NewNoTaxCalculator creates a new no-tax calculator.
func NewNoTaxCalculator() Calculator {
	return &NoTaxCalculator{}
}

// Calculate always returns zero tax.
func (c *NoTaxCalculator) Calculate(_ context.Context, params Params) (*Result, error) {
	if params.Taxable.IsNegative() || params.Shipping.IsNegative() {
		return nil, ErrNegativeAmount
	}
	return &Result{Amount: decimal.Zero, Currency: params.Currency, Rate: decimal.Zero}, nil
}
