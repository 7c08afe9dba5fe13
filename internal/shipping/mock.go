package shipping

import (
	"context"

	"github.com/shopspring/decimal"
)

// MockProvider is a test implementation of Provider.
type MockProvider struct {
	QuoteFunc func(ctx context.Context, params QuoteParams) (*Quote, error)
	Calls     []QuoteParams
}

// NewMockProvider creates a mock that quotes a fixed amount.
func NewMockProvider(amount decimal.Decimal) *MockProvider {
	return &MockProvider{
		QuoteFunc: func(_ context.Context, p QuoteParams) (*Quote, error) {
			return &Quote{MethodID: p.MethodID, Carrier: "Mock", Amount: amount, Currency: p.Currency, EstimatedDaysMin: 1, EstimatedDaysMax: 3}, nil
		},
	}
}

// Quote records the call and delegates to QuoteFunc.
func (m *MockProvider) Quote(ctx context.Context, params QuoteParams) (*Quote, error) {
	m.Calls = append(m.Calls, params)
	if m.QuoteFunc == nil {
		return &Quote{MethodID: params.MethodID, Amount: decimal.Zero, Currency: params.Currency}, nil
	}
	return m.QuoteFunc(ctx, params)
}
