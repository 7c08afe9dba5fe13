package handler

import (
	"time"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/gateway"
	"github.com/dukerupert/kasse/internal/promotion"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Money amounts are rendered as fixed two-place strings.
func money(d decimal.Decimal) string {
	return d.StringFixed(domain.MoneyPlaces)
}

// OrderResponse is the public view of an order.
type OrderResponse struct {
	ID              uuid.UUID            `json:"id"`
	OrderNumber     string               `json:"order_number"`
	Status          domain.OrderStatus   `json:"status"`
	PaymentStatus   domain.PaymentStatus `json:"payment_status,omitempty"`
	Email           string               `json:"email"`
	Currency        string               `json:"currency"`
	Subtotal        string               `json:"subtotal"`
	Discount        string               `json:"discount"`
	Tax             string               `json:"tax"`
	Shipping        string               `json:"shipping"`
	GrandTotal      string               `json:"grand_total"`
	PaymentProvider string               `json:"payment_provider"`
	ShippingMethod  string               `json:"shipping_method"`
	ShippingAddress domain.Address       `json:"shipping_address"`
	Items           []OrderItemResponse  `json:"items"`
	Payments        []PaymentResponse    `json:"payments"`
	CreatedAt       time.Time            `json:"created_at"`
}

// OrderItemResponse is one order line.
type OrderItemResponse struct {
	ID        uuid.UUID `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Quantity  int       `json:"quantity"`
	UnitPrice string    `json:"unit_price"`
	LineTotal string    `json:"line_total"`
}

// PaymentResponse is one ledger row.
type PaymentResponse struct {
	Provider  string               `json:"provider"`
	Reference string               `json:"reference"`
	Status    domain.PaymentStatus `json:"status"`
	Amount    string               `json:"amount"`
	Currency  string               `json:"currency"`
	CreatedAt time.Time            `json:"created_at"`
}

// NewOrderResponse renders o.
func NewOrderResponse(o *domain.Order) OrderResponse {
	resp := OrderResponse{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		Status:          o.Status,
		PaymentStatus:   o.LatestPaymentStatus(),
		Email:           o.Email,
		Currency:        o.Currency,
		Subtotal:        money(o.Subtotal),
		Discount:        money(o.Discount),
		Tax:             money(o.Tax),
		Shipping:        money(o.Shipping),
		GrandTotal:      money(o.GrandTotal),
		PaymentProvider: o.PaymentProvider,
		ShippingMethod:  o.ShippingMethod,
		ShippingAddress: o.ShippingAddress,
		Items:           make([]OrderItemResponse, 0, len(o.Items)),
		Payments:        make([]PaymentResponse, 0, len(o.Transactions)),
		CreatedAt:       o.CreatedAt,
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, OrderItemResponse{
			ID:        it.ID,
			SKU:       it.SKU,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: money(it.UnitPrice),
			LineTotal: money(it.LineTotal),
		})
	}
	for _, t := range o.Transactions {
		resp.Payments = append(resp.Payments, PaymentResponse{
			Provider:  t.Provider,
			Reference: t.ProviderReference,
			Status:    t.Status,
			Amount:    money(t.Amount),
			Currency:  t.Currency,
			CreatedAt: t.CreatedAt,
		})
	}
	return resp
}

// IntentResponse tells the client how to complete payment.
type IntentResponse struct {
	Provider     string            `json:"provider"`
	Reference    string            `json:"reference"`
	ClientSecret string            `json:"client_secret,omitempty"`
	RedirectURL  string            `json:"redirect_url,omitempty"`
	Amount       string            `json:"amount"`
	Currency     string            `json:"currency"`
	Instructions map[string]string `json:"instructions,omitempty"`
}

// NewIntentResponse renders i, or nil.
func NewIntentResponse(i *gateway.Intent) *IntentResponse {
	if i == nil {
		return nil
	}
	return &IntentResponse{
		Provider:     i.Provider,
		Reference:    i.ProviderReference,
		ClientSecret: i.ClientSecret,
		RedirectURL:  i.RedirectURL,
		Amount:       money(i.Amount),
		Currency:     i.Currency,
		Instructions: i.Metadata,
	}
}

// DiscountResponse is one evaluated promotion.
type DiscountResponse struct {
	Source  string    `json:"source"`
	ID      uuid.UUID `json:"id"`
	Label   string    `json:"label"`
	Amount  string    `json:"amount"`
	Applied bool      `json:"applied"`
	Reason  string    `json:"reason,omitempty"`
}

// NewDiscountResponses renders the promotion breakdown.
func NewDiscountResponses(r *promotion.Result) []DiscountResponse {
	if r == nil {
		return nil
	}
	out := make([]DiscountResponse, 0, len(r.Breakdown))
	for _, l := range r.Breakdown {
		out = append(out, DiscountResponse{
			Source:  string(l.Source),
			ID:      l.ID,
			Label:   l.Label,
			Amount:  money(l.Amount),
			Applied: l.Applied,
			Reason:  l.Reason,
		})
	}
	return out
}

// RefundResponse is the view of a refund request.
type RefundResponse struct {
	ID                uuid.UUID            `json:"id"`
	OrderID           uuid.UUID            `json:"order_id"`
	Status            domain.RefundStatus  `json:"status"`
	Reason            string               `json:"reason,omitempty"`
	RequestedAmount   string               `json:"requested_amount"`
	ApprovedAmount    *string              `json:"approved_amount,omitempty"`
	ProviderReference string               `json:"provider_reference,omitempty"`
	DecisionNote      string               `json:"decision_note,omitempty"`
	Items             []RefundItemResponse `json:"items"`
	CreatedAt         time.Time            `json:"created_at"`
	DecidedAt         *time.Time           `json:"decided_at,omitempty"`
	ProcessedAt       *time.Time           `json:"processed_at,omitempty"`
}

// RefundItemResponse is one refunded line.
type RefundItemResponse struct {
	OrderItemID uuid.UUID `json:"order_item_id"`
	Quantity    int       `json:"quantity"`
	Amount      string    `json:"amount"`
}

// NewRefundResponse renders r.
func NewRefundResponse(r *domain.RefundRequest) RefundResponse {
	resp := RefundResponse{
		ID:                r.ID,
		OrderID:           r.OrderID,
		Status:            r.Status,
		Reason:            r.Reason,
		RequestedAmount:   money(r.RequestedAmount),
		ProviderReference: r.ProviderReference,
		DecisionNote:      r.DecisionNote,
		Items:             make([]RefundItemResponse, 0, len(r.Items)),
		CreatedAt:         r.CreatedAt,
		DecidedAt:         r.DecidedAt,
		ProcessedAt:       r.ProcessedAt,
	}
	if r.ApprovedAmount != nil {
		s := money(*r.ApprovedAmount)
		resp.ApprovedAmount = &s
	}
	for _, it := range r.Items {
		resp.Items = append(resp.Items, RefundItemResponse{
			OrderItemID: it.OrderItemID,
			Quantity:    it.Quantity,
			Amount:      money(it.Amount),
		})
	}
	return resp
}
