package shipping

import (
	"context"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/shopspring/decimal"
)

// Provider quotes the cost of delivering an order.
// Implementations: FlatRateProvider, EasyPostProvider
type Provider interface {
	// Quote returns the price of the requested method for the destination
	// and items.
	Quote(ctx context.Context, params QuoteParams) (*Quote, error)
}

// QuoteParams contains parameters for pricing a shipment.
type QuoteParams struct {
	// MethodID selects a service. Empty means the cheapest available.
	MethodID string
	Address  domain.Address
	Items    []Item
	Currency string
}

// Item is a line being shipped.
type Item struct {
	SKU      string
	Quantity int
	// WeightGrams is the per-unit weight; zero falls back to the provider default.
	WeightGrams int
}

// TotalQuantity sums item quantities.
func (p QuoteParams) TotalQuantity() int {
	n := 0
	for _, it := range p.Items {
		n += it.Quantity
	}
	return n
}

// Quote is a priced shipping option.
type Quote struct {
	MethodID         string
	Carrier          string
	ServiceName      string
	Amount           decimal.Decimal
	Currency         string
	EstimatedDaysMin int
	EstimatedDaysMax int
}

func validate(p QuoteParams) error {
	if len(p.Items) == 0 {
		return ErrNoItems
	}
	if p.Address.Country == "" || p.Address.PostalCode == "" {
		return ErrAddressInvalid
	}
	return nil
}
