// Package admin serves operator endpoints behind the admin token.
package admin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/handler"
	"github.com/dukerupert/kasse/internal/tenant"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RefundDecisions is the operator side of the refund workflow.
type RefundDecisions interface {
	Approve(ctx context.Context, tenant domain.TenantRef, requestID uuid.UUID, amount decimal.Decimal, note string) (*domain.RefundRequest, error)
	Deny(ctx context.Context, tenant domain.TenantRef, requestID uuid.UUID, note string) (*domain.RefundRequest, error)
	Get(ctx context.Context, tenant domain.TenantRef, requestID uuid.UUID) (*domain.RefundRequest, error)
	ListForOrder(ctx context.Context, tenant domain.TenantRef, orderID uuid.UUID) ([]domain.RefundRequest, error)
}

// RefundHandler serves refund review endpoints.
type RefundHandler struct {
	refunds RefundDecisions
	logger  *slog.Logger
}

// NewRefundHandler creates an admin refund handler.
func NewRefundHandler(refunds RefundDecisions, logger *slog.Logger) *RefundHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefundHandler{refunds: refunds, logger: logger}
}

type approveRequest struct {
	Amount *decimal.Decimal `json:"amount" validate:"required"`
	Note   string           `json:"note" validate:"max=1000"`
}

type denyRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

// Get handles GET /admin/refunds/{refundID}.
func (h *RefundHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := refundID(r, "admin.get_refund")
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	req, err := h.refunds.Get(r.Context(), tenant.RefFromContext(r.Context()), id)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"refund": handler.NewRefundResponse(req)})
}

// ListForOrder handles GET /admin/orders/{orderID}/refunds.
func (h *RefundHandler) ListForOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(r.PathValue("orderID"))
	if err != nil {
		handler.ErrorResponse(w, r, domain.NewValidationError("admin.list_refunds", "orderID", "must be a UUID"))
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

// Approve handles POST /admin/refunds/{refundID}/approve.
//
// A provider failure answers 502 with the still-approved request in the
// body; posting again retries the provider with the stored amount.
func (h *RefundHandler) Approve(w http.ResponseWriter, r *http.Request) {
	const op = "admin.approve_refund"

	id, err := refundID(r, op)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	var body approveRequest
	if err := handler.DecodeJSON(r, op, &body); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	ref := tenant.RefFromContext(r.Context())
	req, err := h.refunds.Approve(r.Context(), ref, id, *body.Amount, body.Note)
	if err != nil {
		if req != nil {
			handler.ErrorResponseWith(w, r, err, map[string]any{"refund": handler.NewRefundResponse(req)})
			return
		}
		handler.ErrorResponse(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "refund approved",
		"tenant_id", ref.ID, "refund_id", req.ID, "status", req.Status, "amount", body.Amount.StringFixed(2))
	handler.WriteJSON(w, http.StatusOK, map[string]any{"refund": handler.NewRefundResponse(req)})
}

// Deny handles POST /admin/refunds/{refundID}/deny.
func (h *RefundHandler) Deny(w http.ResponseWriter, r *http.Request) {
	const op = "admin.deny_refund"

	id, err := refundID(r, op)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	var body denyRequest
	if r.ContentLength != 0 {
		if err := handler.DecodeJSON(r, op, &body); err != nil {
			handler.ErrorResponse(w, r, err)
			return
		}
	}

	req, err := h.refunds.Deny(r.Context(), tenant.RefFromContext(r.Context()), id, body.Note)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"refund": handler.NewRefundResponse(req)})
}

func refundID(r *http.Request, op string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("refundID"))
	if err != nil {
		return uuid.Nil, domain.NewValidationError(op, "refundID", "must be a UUID")
	}
	return id, nil
}
