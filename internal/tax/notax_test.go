package tax_test

import (
	"context"
	"testing"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/tax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoTaxCalculator_ReturnsZeroTax(t *testing.T) {
	calc := tax.NewNoTaxCalculator()

	result, err := calc.Calculate(context.Background(), tax.Params{
		Taxable:  dec("58.00"),
		Shipping: dec("5.00"),
		Currency: "USD",
		Address: domain.Address{
			Line1:      "123 Main St",
			City:       "Seattle",
			Region:     "WA",
			PostalCode: "98101",
			Country:    "US",
		},
	})

	require.NoError(t, err)
	assert.True(t, result.Amount.IsZero(), "NoTaxCalculator should always return zero tax")
	assert.Equal(t, "USD", result.Currency)
	assert.Empty(t, result.AppliedRuleID)
}

func TestNoTaxCalculator_RejectsNegativeShipping(t *testing.T) {
	_, err := tax.NewNoTaxCalculator().Calculate(context.Background(), tax.Params{Shipping: dec("-5")})
	assert.ErrorIs(t, err, tax.ErrNegativeAmount)
}
