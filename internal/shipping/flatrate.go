package shipping

import (
	"context"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// FlatRateProvider prices shipping from a fixed table of services.
type FlatRateProvider struct {
	rates []FlatRate
}

// FlatRate defines a single flat-rate shipping option.
type FlatRate struct {
	ServiceName string
	ServiceCode string
	// Amount is charged once per shipment.
	Amount decimal.Decimal
	// PerItem is added for every unit after the first.
	PerItem decimal.Decimal
	DaysMin int
	DaysMax int
	// Countries limits the service to these ISO codes. Empty means anywhere.
	Countries []string
}

// NewFlatRateProvider creates a new flat-rate shipping provider.
func NewFlatRateProvider(rates []FlatRate) *FlatRateProvider {
	return &FlatRateProvider{rates: rates}
}

func (r FlatRate) serves(country string) bool {
	if len(r.Countries) == 0 {
		return true
	}
	return slices.ContainsFunc(r.Countries, func(c string) bool { return strings.EqualFold(c, country) })
}

func (r FlatRate) price(units int) decimal.Decimal {
	amount := r.Amount
	if units > 1 {
		amount = amount.Add(r.PerItem.Mul(decimal.NewFromInt(int64(units - 1))))
	}
	return amount.Round(2)
}

// Quote prices the requested service, or the cheapest one serving the
// destination when MethodID is empty.
func (p *FlatRateProvider) Quote(_ context.Context, params QuoteParams) (*Quote, error) {
	if err := validate(params); err != nil {
		return nil, err
	}
	units := params.TotalQuantity()

	var chosen *FlatRate
	if params.MethodID != "" {
		for i := range p.rates {
			if p.rates[i].ServiceCode == params.MethodID {
				chosen = &p.rates[i]
				break
			}
		}
		if chosen == nil {
			return nil, ErrUnknownMethod
		}
		if !chosen.serves(params.Address.Country) {
			return nil, ErrUnsupportedDestination
		}
	} else {
		for i := range p.rates {
			r := &p.rates[i]
			if !r.serves(params.Address.Country) {
				continue
			}
			if chosen == nil || r.price(units).LessThan(chosen.price(units)) {
				chosen = r
			}
		}
		if chosen == nil {
			return nil, ErrNoRates
		}
	}

	return &Quote{
		MethodID:         chosen.ServiceCode,
		Carrier:          "Flat Rate",
		ServiceName:      chosen.ServiceName,
		Amount:           chosen.price(units),
		Currency:         params.Currency,
		EstimatedDaysMin: chosen.DaysMin,
		EstimatedDaysMax: chosen.DaysMax,
	}, nil
}
