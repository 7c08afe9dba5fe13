package admin

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/gateway"
	"github.com/dukerupert/kasse/internal/handler"
	"github.com/dukerupert/kasse/internal/tenant"
	"github.com/shopspring/decimal"
)

// SettingsStore persists per-tenant gateway credentials.
type SettingsStore interface {
	Lookup(ctx context.Context, tenantKey, provider string) (*gateway.Settings, error)
	Save(ctx context.Context, tenantKey, provider string, settings *gateway.Settings) error
	Delete(ctx context.Context, tenantKey, provider string) error
}

// SettingsHandler lets operators manage a tenant's gateway credentials.
// Secrets are write-only: reads return them masked.
type SettingsHandler struct {
	store     SettingsStore
	providers []string
	logger    *slog.Logger
}

// NewSettingsHandler creates a handler accepting settings for providers.
func NewSettingsHandler(store SettingsStore, providers []string, logger *slog.Logger) *SettingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsHandler{store: store, providers: providers, logger: logger}
}

type settingsRequest struct {
	Currency      string            `json:"currency" validate:"omitempty,len=3,uppercase"`
	APIKey        string            `json:"api_key" validate:"max=512"`
	WebhookSecret string            `json:"webhook_secret" validate:"max=512"`
	BaseURL       string            `json:"base_url" validate:"omitempty,url"`
	ReturnURL     string            `json:"return_url" validate:"omitempty,url"`
	Rates         map[string]string `json:"rates" validate:"dive,keys,len=3,uppercase,endkeys,required"`
	Metadata      map[string]string `json:"metadata"`
}

// SettingsResponse is the masked view of stored settings.
type SettingsResponse struct {
	Provider      string            `json:"provider"`
	Configured    bool              `json:"configured"`
	Currency      string            `json:"currency,omitempty"`
	APIKey        string            `json:"api_key,omitempty"`
	WebhookSecret string            `json:"webhook_secret,omitempty"`
	BaseURL       string            `json:"base_url,omitempty"`
	ReturnURL     string            `json:"return_url,omitempty"`
	Rates         map[string]string `json:"rates,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func newSettingsResponse(provider string, s *gateway.Settings) SettingsResponse {
	out := SettingsResponse{Provider: provider}
	if s == nil {
		return out
	}
	out.Configured = true
	out.Currency = s.Currency
	out.APIKey = maskSecret(s.APIKey)
	out.WebhookSecret = maskSecret(s.WebhookSecret)
	out.BaseURL = s.BaseURL
	out.ReturnURL = s.ReturnURL
	out.Rates = s.Rates
	out.Metadata = s.Metadata
	return out
}

// maskSecret keeps the last four characters of secrets long enough to
// identify.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// Get handles GET /admin/payment-settings/{provider}.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	const op = "admin.get_payment_settings"

	provider, err := h.provider(r, op)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	t := tenant.FromContext(r.Context())

	s, err := h.store.Lookup(r.Context(), t.Identifier, provider)
	if err != nil {
		handler.ErrorResponse(w, r, domain.Internal(err, op, "failed to load payment settings"))
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"settings": newSettingsResponse(provider, s)})
}

// Put handles PUT /admin/payment-settings/{provider}. The body replaces the
// stored settings.
func (h *SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	const op = "admin.save_payment_settings"

	provider, err := h.provider(r, op)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	var req settingsRequest
	if err := handler.DecodeJSON(r, op, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	for code, rate := range req.Rates {
		d, err := decimal.NewFromString(rate)
		if err != nil || !d.IsPositive() {
			handler.ErrorResponse(w, r, domain.NewValidationError(op, "rates."+code, "must be a positive decimal"))
			return
		}
	}

	settings := &gateway.Settings{
		Currency:      req.Currency,
		APIKey:        req.APIKey,
		WebhookSecret: req.WebhookSecret,
		BaseURL:       req.BaseURL,
		ReturnURL:     req.ReturnURL,
		Rates:         req.Rates,
		Metadata:      req.Metadata,
	}
	t := tenant.FromContext(r.Context())
	if err := h.store.Save(r.Context(), t.Identifier, provider, settings); err != nil {
		handler.ErrorResponse(w, r, domain.Internal(err, op, "failed to save payment settings"))
		return
	}

	h.logger.Info("payment settings updated", "tenant_id", t.ID, "provider", provider)
	handler.WriteJSON(w, http.StatusOK, map[string]any{"settings": newSettingsResponse(provider, settings)})
}

// Delete handles DELETE /admin/payment-settings/{provider}. The tenant falls
// back to the default layer afterwards.
func (h *SettingsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	const op = "admin.delete_payment_settings"

	provider, err := h.provider(r, op)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	t := tenant.FromContext(r.Context())
	if err := h.store.Delete(r.Context(), t.Identifier, provider); err != nil {
		handler.ErrorResponse(w, r, domain.Internal(err, op, "failed to delete payment settings"))
		return
	}

	h.logger.Info("payment settings removed", "tenant_id", t.ID, "provider", provider)
	w.WriteHeader(http.StatusNoContent)
}

func (h *SettingsHandler) provider(r *http.Request, op string) (string, error) {
	p := strings.ToLower(r.PathValue("provider"))
	if !slices.Contains(h.providers, p) {
		return "", domain.NotFound(op, "payment provider", p)
	}
	return p, nil
}
