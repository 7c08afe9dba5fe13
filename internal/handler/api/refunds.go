package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/handler"
	"github.com/dukerupert/kasse/internal/refund"
	"github.com/dukerupert/kasse/internal/tenant"
	"github.com/google/uuid"
)

// RefundRequests is the customer side of the refund workflow.
type RefundRequests interface {
	Submit(ctx context.Context, tenant domain.TenantRef, p refund.SubmitParams) (*domain.RefundRequest, error)
	ListForOrder(ctx context.Context, tenant domain.TenantRef, orderID uuid.UUID) ([]domain.RefundRequest, error)
}

// RefundHandler serves customer refund endpoints.
type RefundHandler struct {
	refunds RefundRequests
	logger  *slog.Logger
}

// NewRefundHandler creates a refund handler.
func NewRefundHandler(refunds RefundRequests, logger *slog.Logger) *RefundHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefundHandler{refunds: refunds, logger: logger}
}

type refundItemRequest struct {
	OrderItemID string `json:"order_item_id" validate:"required,uuid"`
	Quantity    int    `json:"quantity" validate:"min=1"`
}

type submitRefundRequest struct {
	Reason string              `json:"reason" validate:"max=1000"`
	Items  []refundItemRequest `json:"items" validate:"required,min=1,max=100,dive"`
}

// Submit handles POST /api/orders/{orderID}/refunds.
func (h *RefundHandler) Submit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_refund"

	orderID, err := pathID(r, "orderID", op)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	var req submitRefundRequest
	if err := handler.DecodeJSON(r, op, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	params := refund.SubmitParams{OrderID: orderID, Reason: req.Reason}
	for _, it := range req.Items {
		params.Items = append(params.Items, refund.ItemParams{
			OrderItemID: uuid.MustParse(it.OrderItemID),
			Quantity:    it.Quantity,
		})
	}

	created, err := h.refunds.Submit(r.Context(), tenant.RefFromContext(r.Context()), params)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "refund submitted", "order_id", orderID, "refund_id", created.ID)
	handler.WriteJSON(w, http.StatusCreated, map[string]any{"refund": handler.NewRefundResponse(created)})
}

// List handles GET /api/orders/{orderID}/refunds.
func (h *RefundHandler) List(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderID", "api.list_refunds")
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	reqs, err := h.refunds.ListForOrder(r.Context(), tenant.RefFromContext(r.Context()), orderID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	out := make([]handler.RefundResponse, 0, len(reqs))
	for i := range reqs {
		out = append(out, handler.NewRefundResponse(&reqs[i]))
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"refunds": out})
}
