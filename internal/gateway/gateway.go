// Package gateway is the provider-agnostic payment contract, its adapters and
// the orchestrator that resolves per-tenant configuration for every call.
package gateway

import (
	"context"
	"net/http"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Gateway is implemented once per provider. Implementations must not cache a
// Context between calls.
type Gateway interface {
	// Key is the exact string the registry dispatches on.
	Key() string

	// Pay starts a charge or redirect flow. It returns as soon as the provider
	// has accepted the request; the intent is not proof of payment.
	Pay(ctx context.Context, order *domain.Order, gctx *Context) (*Intent, error)

	// Verify authenticates a callback against the tenant's webhook secret
	// and then parses it. Authentication failures return ErrUnauthorized.
	Verify(ctx context.Context, payload []byte, headers http.Header, gctx *Context) (*Verification, error)

	// Refund returns money against a captured provider reference.
	Refund(ctx context.Context, params RefundParams, gctx *Context) (*RefundResult, error)

	// Cancel voids an intent that has not been captured. It fails when the
	// provider has already taken the money or is still processing it.
	Cancel(ctx context.Context, reference string, gctx *Context) error
}

// Intent is the provider's promise to collect payment.
type Intent struct {
	Provider          string            `json:"provider"`
	ProviderReference string            `json:"provider_reference"`
	ClientSecret      string            `json:"client_secret,omitempty"`
	RedirectURL       string            `json:"redirect_url,omitempty"`
	Amount            decimal.Decimal   `json:"amount"`
	Currency          string            `json:"currency"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Verification is an authenticated callback mapped onto PaymentStatus. An
// empty Status marks an event the adapter does not act on.
type Verification struct {
	Provider          string
	ProviderReference string
	Status            domain.PaymentStatus
	Amount            decimal.Decimal
	Currency          string
	EventType         string
	EventID           string
}

// Ignored reports whether the callback carries no payment status change.
func (v *Verification) Ignored() bool { return v.Status == "" }

// RefundParams describes a refund against a captured payment.
type RefundParams struct {
	// RefundID is the local refund request id, sent as the idempotency key.
	RefundID          uuid.UUID
	ProviderReference string
	Amount            decimal.Decimal
	Currency          string
	Reason            string
}

// RefundResult is the provider's answer to a refund.
type RefundResult struct {
	ProviderReference string
	Status            domain.PaymentStatus
}
