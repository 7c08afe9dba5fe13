package gateway

import (
	"maps"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/shopspring/decimal"
)

// Context is the per-call view of tenant and provider configuration. It is
// rebuilt by the Orchestrator for every call and never persisted.
type Context struct {
	Tenant   domain.TenantRef
	Provider string

	// Currency is the order currency.
	Currency string
	// SettlementCurrency is what the provider charges in. Equal to Currency
	// unless the provider settings name another.
	SettlementCurrency string
	// Rates maps a currency to units of SettlementCurrency per unit.
	Rates map[string]decimal.Decimal

	APIKey        string
	WebhookSecret string
	BaseURL       string
	ReturnURL     string
	Metadata      map[string]string
}

// ChargeAmount converts an order amount into the settlement currency.
func (c *Context) ChargeAmount(amount decimal.Decimal) (decimal.Decimal, string, error) {
	if c.SettlementCurrency == "" || c.SettlementCurrency == c.Currency {
		return domain.RoundMoney(amount), c.Currency, nil
	}
	rate, ok := c.Rates[c.Currency]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, "", domain.WithOp(ErrNoConversionRate, "gateway.charge_amount")
	}
	return domain.RoundMoney(amount.Mul(rate)), c.SettlementCurrency, nil
}

// OrderAmount converts a provider-reported amount back into the order
// currency. Amounts already in the order currency pass through.
func (c *Context) OrderAmount(amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	currency = domain.NormalizeCurrency(currency)
	if currency == "" || currency == c.Currency {
		return amount, nil
	}
	rate, ok := c.Rates[c.Currency]
	if currency != c.SettlementCurrency || !ok || !rate.IsPositive() {
		return decimal.Zero, domain.WithOp(ErrNoConversionRate, "gateway.order_amount")
	}
	return domain.RoundMoney(amount.Div(rate)), nil
}

// metadata returns a copy of the configured metadata merged with extra.
func (c *Context) metadata(extra map[string]string) map[string]string {
	out := make(map[string]string, len(c.Metadata)+len(extra))
	maps.Copy(out, c.Metadata)
	maps.Copy(out, extra)
	return out
}
