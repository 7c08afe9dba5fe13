package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/kasse/internal/checkout"
	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/handler"
	"github.com/dukerupert/kasse/internal/tenant"
	"github.com/google/uuid"
)

// CheckoutService is the checkout core as seen by HTTP.
type CheckoutService interface {
	Checkout(ctx context.Context, p checkout.Params) (*checkout.Result, error)
	GetOrder(ctx context.Context, tenant domain.TenantRef, orderID uuid.UUID) (*domain.Order, error)
	RetryPayment(ctx context.Context, tenant domain.TenantRef, orderID uuid.UUID, provider string, metadata map[string]string) (*checkout.Result, error)
}

// CheckoutHandler serves checkout and order endpoints.
type CheckoutHandler struct {
	service CheckoutService
	logger  *slog.Logger
}

// NewCheckoutHandler creates a checkout handler.
func NewCheckoutHandler(service CheckoutService, logger *slog.Logger) *CheckoutHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutHandler{service: service, logger: logger}
}

type addressRequest struct {
	FullName   string `json:"full_name" validate:"max=200"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	Region     string `json:"region" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,len=2"`
	Phone      string `json:"phone" validate:"max=40"`
}

func (a addressRequest) toDomain() domain.Address {
	return domain.Address{
		FullName:   a.FullName,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		Region:     a.Region,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

type checkoutRequest struct {
	CartID          string            `json:"cart_id" validate:"omitempty,uuid"`
	UserID          string            `json:"user_id" validate:"omitempty,uuid"`
	GuestToken      string            `json:"guest_token" validate:"max=128"`
	Email           string            `json:"email" validate:"required,email"`
	Currency        string            `json:"currency" validate:"omitempty,len=3"`
	CouponCode      string            `json:"coupon_code" validate:"max=64"`
	ShippingMethod  string            `json:"shipping_method" validate:"required,max=64"`
	PaymentProvider string            `json:"payment_provider" validate:"required,max=32"`
	ShippingAddress addressRequest    `json:"shipping_address"`
	PaymentMetadata map[string]string `json:"payment_metadata" validate:"max=20"`
}

type checkoutResponse struct {
	Order     handler.OrderResponse      `json:"order"`
	Payment   *handler.IntentResponse    `json:"payment,omitempty"`
	Discounts []handler.DiscountResponse `json:"discounts,omitempty"`
}

// Checkout handles POST /api/checkout.
//
// 201 with the order and payment intent. When the order was created but the
// provider failed, the error is returned together with the pending order so
// the client can retry payment.
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	const op = "api.checkout"

	var req checkoutRequest
	if err := handler.DecodeJSON(r, op, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	ref := domain.CartRef{GuestToken: req.GuestToken}
	if req.CartID != "" {
		ref.CartID = uuid.MustParse(req.CartID)
	}
	if req.UserID != "" {
		ref.UserID = uuid.MustParse(req.UserID)
	}

	res, err := h.service.Checkout(r.Context(), checkout.Params{
		Tenant:          tenant.RefFromContext(r.Context()),
		Cart:            ref,
		ShippingAddress: req.ShippingAddress.toDomain(),
		ShippingMethod:  req.ShippingMethod,
		Email:           req.Email,
		Currency:        req.Currency,
		CouponCode:      req.CouponCode,
		PaymentProvider: req.PaymentProvider,
		PaymentMetadata: req.PaymentMetadata,
	})
	if err != nil {
		if res != nil && res.Order != nil {
			h.logger.WarnContext(r.Context(), "order created without payment intent",
				"order_id", res.Order.ID, "provider", req.PaymentProvider, "code", domain.ErrorCode(err))
			handler.ErrorResponseWith(w, r, err, map[string]any{"order": handler.NewOrderResponse(res.Order)})
			return
		}
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.WriteJSON(w, http.StatusCreated, checkoutResponse{
		Order:     handler.NewOrderResponse(res.Order),
		Payment:   handler.NewIntentResponse(res.Intent),
		Discounts: handler.NewDiscountResponses(res.Promotion),
	})
}

// GetOrder handles GET /api/orders/{orderID}.
func (h *CheckoutHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderID", "api.get_order")
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	order, err := h.service.GetOrder(r.Context(), tenant.RefFromContext(r.Context()), orderID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"order": handler.NewOrderResponse(order)})
}

type retryPaymentRequest struct {
	PaymentProvider string            `json:"payment_provider" validate:"max=32"`
	PaymentMetadata map[string]string `json:"payment_metadata" validate:"max=20"`
}

// RetryPayment handles POST /api/orders/{orderID}/payment. An empty body
// retries with the order's provider.
func (h *CheckoutHandler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	const op = "api.retry_payment"

	orderID, err := pathID(r, "orderID", op)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	var req retryPaymentRequest
	if r.ContentLength != 0 {
		if err := handler.DecodeJSON(r, op, &req); err != nil {
			handler.ErrorResponse(w, r, err)
			return
		}
	}

	res, err := h.service.RetryPayment(r.Context(), tenant.RefFromContext(r.Context()), orderID, req.PaymentProvider, req.PaymentMetadata)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, checkoutResponse{
		Order:   handler.NewOrderResponse(res.Order),
		Payment: handler.NewIntentResponse(res.Intent),
	})
}

func pathID(r *http.Request, name, op string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, domain.NewValidationError(op, name, "must be a UUID")
	}
	return id, nil
}
