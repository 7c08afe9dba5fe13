package tax_test

import (
	"context"
	"testing"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/tax"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Subtotal $25 + shipping $5 at 8% = $2.40
func Test_PercentageCalculator_DefaultRate(t *testing.T) {
	calc, err := tax.NewPercentageCalculator(dec("0.08"))
	require.NoError(t, err)

	result, err := calc.Calculate(context.Background(), tax.Params{
		Taxable:  dec("25.00"),
		Shipping: dec("5.00"),
		Currency: "USD",
	})

	require.NoError(t, err)
	assert.Equal(t, "2.40", result.Amount.StringFixed(2))
	assert.Equal(t, "USD", result.Currency)
	assert.Empty(t, result.AppliedRuleID, "default rate has no rule id")
	assert.True(t, dec("0.08").Equal(result.Rate))
}

func Test_PercentageCalculator_Rounding(t *testing.T) {
	tests := []struct {
		name        string
		rate        string
		taxable     string
		shipping    string
		expected    string
		explanation string
	}{
		{"exact cents", "0.10", "10.00", "0", "1.00", "10.00 * 0.10 = 1.00"},
		{"rounds up above midpoint", "0.08", "10.62", "0", "0.85", "10.62 * 0.08 = 0.8496"},
		{"rounds down below midpoint", "0.08", "10.40", "0", "0.83", "10.40 * 0.08 = 0.832"},
		{"half rounds away from zero", "0.05", "0.50", "0.40", "0.05", "0.90 * 0.05 = 0.045"},
		{"with shipping", "0.085", "47.23", "3.87", "4.34", "51.10 * 0.085 = 4.3435"},
		{"fractional rate", "0.065", "15.37", "0", "1.00", "15.37 * 0.065 = 0.99905"},
		{"zero rate", "0", "100.00", "5.00", "0.00", "no tax"},
		{"full rate", "1", "50.00", "0", "50.00", "tax equals base"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc, err := tax.NewPercentageCalculator(dec(tt.rate))
			require.NoError(t, err)

			result, err := calc.Calculate(context.Background(), tax.Params{
				Taxable:  dec(tt.taxable),
				Shipping: dec(tt.shipping),
			})

			require.NoError(t, err)
			assert.Equal(t, tt.expected, result.Amount.StringFixed(2), tt.explanation)
		})
	}
}

func Test_PercentageCalculator_RegionRules(t *testing.T) {
	calc, err := tax.NewPercentageCalculator(dec("0.05"),
		tax.Rule{ID: "us", Country: "US", Rate: dec("0.06"), IncludeShipping: false},
		tax.Rule{ID: "us-wa", Country: "us", Region: "wa", Rate: dec("0.10"), IncludeShipping: true},
		tax.Rule{ID: "de", Country: "DE", Rate: dec("0.19"), IncludeShipping: true},
	)
	require.NoError(t, err)

	tests := []struct {
		name     string
		address  domain.Address
		rule     string
		expected string
	}{
		{"region rule wins over country", domain.Address{Country: "US", Region: "WA"}, "us-wa", "11.00"},
		{"country rule excludes shipping", domain.Address{Country: "US", Region: "OR"}, "us", "6.00"},
		{"case insensitive match", domain.Address{Country: "de"}, "de", "20.90"},
		{"unknown country falls back to default", domain.Address{Country: "FR"}, "", "5.50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := calc.Calculate(context.Background(), tax.Params{
				Taxable:  dec("100.00"),
				Shipping: dec("10.00"),
				Currency: "EUR",
				Address:  tt.address,
			})

			require.NoError(t, err)
			assert.Equal(t, tt.rule, result.AppliedRuleID)
			assert.Equal(t, tt.expected, result.Amount.StringFixed(2))
		})
	}
}

func Test_PercentageCalculator_RejectsInvalidConfiguration(t *testing.T) {
	_, err := tax.NewPercentageCalculator(dec("1.5"))
	assert.ErrorIs(t, err, tax.ErrInvalidRate)

	_, err = tax.NewPercentageCalculator(dec("-0.01"))
	assert.ErrorIs(t, err, tax.ErrInvalidRate)

	_, err = tax.NewPercentageCalculator(dec("0.1"), tax.Rule{ID: "x", Country: "US", Rate: dec("2")})
	assert.True(t, domain.IsCode(err, domain.EINVALID))

	_, err = tax.NewPercentageCalculator(dec("0.1"),
		tax.Rule{ID: "x", Country: "US", Rate: dec("0.1")},
		tax.Rule{ID: "x", Country: "CA", Rate: dec("0.1")},
	)
	assert.ErrorIs(t, err, tax.ErrDuplicateRule)
}

func Test_PercentageCalculator_NegativeInput(t *testing.T) {
	calc, err := tax.NewPercentageCalculator(dec("0.08"))
	require.NoError(t, err)

	_, err = calc.Calculate(context.Background(), tax.Params{Taxable: dec("-1.00")})
	assert.ErrorIs(t, err, tax.ErrNegativeAmount)
}
