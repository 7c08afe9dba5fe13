// Package webhook receives payment provider callbacks.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/handler"
	"github.com/dukerupert/kasse/internal/reconcile"
	"github.com/dukerupert/kasse/internal/telemetry"
	"github.com/dukerupert/kasse/internal/tenant"
	"github.com/google/uuid"
)

// DefaultMaxPayload caps callback bodies. Provider payloads are a few KB.
const DefaultMaxPayload = 256 << 10

// Reconciler applies a verified callback.
type Reconciler interface {
	Handle(ctx context.Context, tenant domain.TenantRef, provider string, payload []byte, headers http.Header) (*reconcile.Outcome, error)
}

// Handler serves POST /webhooks/{provider}/{tenant}.
//
// Providers are configured with one URL per tenant, so the tenant comes from
// the path rather than the Host header. Any non-2xx answer makes the provider
// redeliver; unknown references answer 404 for that reason.
type Handler struct {
	reconciler Reconciler
	tenants    tenant.Resolver
	logger     *slog.Logger
	maxPayload int64
}

// NewHandler creates a webhook handler.
func NewHandler(reconciler Reconciler, tenants tenant.Resolver, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		reconciler: reconciler,
		tenants:    tenants,
		logger:     logger,
		maxPayload: DefaultMaxPayload,
	}
}

type ackResponse struct {
	Received bool               `json:"received"`
	Result   string             `json:"result"`
	Outcome  *reconcile.Outcome `json:"outcome,omitempty"`
}

// ServeHTTP reads the raw body, resolves the tenant and hands both to the
// reconciler. The body is never parsed here: signatures cover raw bytes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "webhook.receive"

	provider := r.PathValue("provider")
	t, err := h.resolveTenant(r.Context(), r.PathValue("tenant"))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	ctx := tenant.NewContext(r.Context(), t)
	r = r.WithContext(ctx)
	telemetry.SetTenant(ctx, t.ID.String())

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxPayload))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			handler.ErrorResponse(w, r, domain.Invalid(op, "payload too large"))
			return
		}
		handler.ErrorResponse(w, r, domain.WrapError(err, domain.EINVALID, op, "Error reading request body"))
		return
	}

	logger := h.logger.With("tenant_id", t.ID, "provider", provider)
	out, err := h.reconciler.Handle(ctx, t.Ref(), provider, payload, r.Header)
	if err != nil {
		switch domain.ErrorCode(err) {
		case domain.EUNAUTHORIZED:
			logger.WarnContext(ctx, "webhook signature rejected", "error", err)
		case domain.ENOTFOUND:
			logger.InfoContext(ctx, "webhook for unknown reference", "error", err)
		}
		handler.ErrorResponse(w, r, err)
		return
	}

	logger.InfoContext(ctx, "webhook processed",
		"order_id", out.OrderID,
		"payment_status", out.Status,
		"result", out.Result(),
		"bytes", len(payload),
	)
	handler.WriteJSON(w, http.StatusOK, ackResponse{Received: true, Result: out.Result(), Outcome: out})
}

// resolveTenant accepts the public identifier, falling back to the tenant
// UUID for endpoints registered before identifiers existed.
func (h *Handler) resolveTenant(ctx context.Context, key string) (*tenant.Tenant, error) {
	const op = "webhook.resolve_tenant"

	if key == "" {
		return nil, domain.Invalid(op, "tenant is required")
	}
	t, err := h.tenants.ByIdentifier(ctx, key)
	if errors.Is(err, tenant.ErrTenantNotFound) {
		if id, perr := uuid.Parse(key); perr == nil {
			t, err = h.tenants.ByID(ctx, id)
		}
	}
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound):
		return nil, domain.NotFound(op, "tenant", key)
	case err != nil:
		return nil, domain.Internal(err, op, "failed to resolve tenant")
	case !t.IsActive():
		return nil, domain.NotFound(op, "tenant", key)
	}
	return t, nil
}
