package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places every persisted amount carries.
const MoneyPlaces = 2

// RoundMoney rounds to two places, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// LineAmount returns round(unit × quantity).
func LineAmount(unit decimal.Decimal, quantity int) decimal.Decimal {
	return RoundMoney(unit.Mul(decimal.NewFromInt(int64(quantity))))
}

// MinorUnits converts an amount to integer minor units (cents) for providers
// that expect them.
func MinorUnits(d decimal.Decimal) int64 {
	return RoundMoney(d).Shift(MoneyPlaces).IntPart()
}

// FromMinorUnits converts integer minor units back to a decimal amount.
func FromMinorUnits(units int64) decimal.Decimal {
	return decimal.New(units, -MoneyPlaces)
}

// NormalizeCurrency upper-cases and trims an ISO-4217 code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCurrency reports whether code looks like an ISO-4217 alpha code.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
