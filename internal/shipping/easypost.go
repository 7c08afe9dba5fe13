package shipping

import (
	"context"
	"log/slog"
	"strings"

	"github.com/EasyPost/easypost-go/v5"
	"github.com/dukerupert/kasse/internal/domain"
	"github.com/shopspring/decimal"
)

// Conversion constants for metric to imperial units.
const (
	cmToInchRatio  = 0.393701
	gramsToOzRatio = 0.035274
)

// shipmentCreator is the slice of the EasyPost client the provider calls.
type shipmentCreator interface {
	CreateShipmentWithContext(ctx context.Context, in *easypost.Shipment) (*easypost.Shipment, error)
}

// EasyPostProvider quotes live carrier rates through the EasyPost API.
type EasyPostProvider struct {
	client shipmentCreator
	origin domain.Address
	parcel Parcel
	logger *slog.Logger
}

// Parcel describes the default box used for every shipment.
type Parcel struct {
	LengthCm         int
	WidthCm          int
	HeightCm         int
	DefaultItemGrams int
	PackagingGrams   int
}

// EasyPostConfig contains configuration for the EasyPost provider.
type EasyPostConfig struct {
	APIKey string
	Origin domain.Address
	Parcel Parcel
	Logger *slog.Logger // Optional: defaults to slog.Default()
}

// NewEasyPostProvider creates a new EasyPost shipping provider.
func NewEasyPostProvider(cfg EasyPostConfig) (*EasyPostProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	return newEasyPostProvider(easypost.New(cfg.APIKey), cfg)
}

func newEasyPostProvider(client shipmentCreator, cfg EasyPostConfig) (*EasyPostProvider, error) {
	if cfg.Origin.Line1 == "" || cfg.Origin.Country == "" {
		return nil, ErrOriginRequired
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Parcel.DefaultItemGrams <= 0 {
		cfg.Parcel.DefaultItemGrams = 340
	}
	return &EasyPostProvider{client: client, origin: cfg.Origin, parcel: cfg.Parcel, logger: logger}, nil
}

// Quote creates a shipment for the destination and picks the matching rate.
// MethodID is "carrier:service" or just "service", matched case-insensitively.
func (p *EasyPostProvider) Quote(ctx context.Context, params QuoteParams) (*Quote, error) {
	if err := validate(params); err != nil {
		return nil, err
	}

	logger := p.logger.With(
		"destination_country", params.Address.Country,
		"destination_region", params.Address.Region,
		"method", params.MethodID,
	)

	shipment, err := p.client.CreateShipmentWithContext(ctx, &easypost.Shipment{
		FromAddress: toEasyPostAddress(p.origin),
		ToAddress:   toEasyPostAddress(params.Address),
		Parcel:      p.toEasyPostParcel(params.Items),
	})
	if err != nil {
		logger.Error("failed to create shipment", "error", err)
		return nil, domain.PricingUnavailable(err, "shipping.easypost_quote", "Shipping rates are unavailable")
	}

	rate, err := selectRate(shipment.Rates, params.MethodID, params.Currency)
	if err != nil {
		logger.Warn("no usable rate", "rate_count", len(shipment.Rates), "error", err)
		return nil, err
	}

	amount, err := parseAmount(rate.Rate)
	if err != nil {
		return nil, err
	}

	daysMin, daysMax := 1, 5
	if rate.DeliveryDays > 0 {
		daysMin, daysMax = rate.DeliveryDays, rate.DeliveryDays
	}

	logger.Info("shipping quoted", "shipment_id", shipment.ID, "carrier", rate.Carrier, "service", rate.Service, "amount", amount.StringFixed(2))

	return &Quote{
		MethodID:         rate.Carrier + ":" + rate.Service,
		Carrier:          rate.Carrier,
		ServiceName:      rate.Service,
		Amount:           amount,
		Currency:         strings.ToUpper(rate.Currency),
		EstimatedDaysMin: daysMin,
		EstimatedDaysMax: daysMax,
	}, nil
}

// selectRate returns the cheapest rate matching method in currency.
func selectRate(rates []*easypost.Rate, method, currency string) (*easypost.Rate, error) {
	carrier, service, hasCarrier := strings.Cut(method, ":")
	if !hasCarrier {
		service, carrier = method, ""
	}

	var (
		best       *easypost.Rate
		bestAmount decimal.Decimal
		currencyOK bool
	)
	for _, r := range rates {
		if r == nil {
			continue
		}
		if service != "" && !strings.EqualFold(r.Service, service) {
			continue
		}
		if carrier != "" && !strings.EqualFold(r.Carrier, carrier) {
			continue
		}
		if currency != "" && !strings.EqualFold(r.Currency, currency) {
			continue
		}
		currencyOK = true
		amt, err := parseAmount(r.Rate)
		if err != nil {
			continue
		}
		if best == nil || amt.LessThan(bestAmount) {
			best, bestAmount = r, amt
		}
	}
	switch {
	case best != nil:
		return best, nil
	case method != "" && !currencyOK && len(rates) > 0:
		return nil, ErrUnknownMethod
	}
	return nil, ErrNoRates
}

func toEasyPostAddress(addr domain.Address) *easypost.Address {
	return &easypost.Address{
		Name:    addr.FullName,
		Street1: addr.Line1,
		Street2: addr.Line2,
		City:    addr.City,
		State:   addr.Region,
		Zip:     addr.PostalCode,
		Country: addr.Country,
		Phone:   addr.Phone,
	}
}

// toEasyPostParcel builds one parcel holding every unit.
// EasyPost uses inches for dimensions and ounces for weight.
func (p *EasyPostProvider) toEasyPostParcel(items []Item) *easypost.Parcel {
	grams := p.parcel.PackagingGrams
	for _, it := range items {
		w := it.WeightGrams
		if w <= 0 {
			w = p.parcel.DefaultItemGrams
		}
		grams += w * it.Quantity
	}
	return &easypost.Parcel{
		Length: float64(p.parcel.LengthCm) * cmToInchRatio,
		Width:  float64(p.parcel.WidthCm) * cmToInchRatio,
		Height: float64(p.parcel.HeightCm) * cmToInchRatio,
		Weight: float64(grams) * gramsToOzRatio,
	}
}

// parseAmount converts a carrier amount like "5.25" to money.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount(s, err)
	}
	return d.Round(2), nil
}
