package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeKey is the registry key of the card network adapter.
const StripeKey = "stripe"

// Stripe charges cards through Stripe PaymentIntents.
type Stripe struct {
	backends *stripe.Backends
	logger   *slog.Logger
}

// StripeOption configures the Stripe adapter.
type StripeOption func(*Stripe)

// WithStripeBackends points the adapter at custom API backends.
func WithStripeBackends(b *stripe.Backends) StripeOption {
	return func(s *Stripe) { s.backends = b }
}

// NewStripe creates the Stripe adapter. API keys come from the Context on
// every call.
func NewStripe(logger *slog.Logger, opts ...StripeOption) *Stripe {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stripe{logger: logger.With("provider", StripeKey)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stripe) Key() string { return StripeKey }

func (s *Stripe) client(gctx *Context) (*stripe.Client, error) {
	if gctx.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if s.backends != nil {
		return stripe.NewClient(gctx.APIKey, stripe.WithBackends(s.backends)), nil
	}
	return stripe.NewClient(gctx.APIKey), nil
}

// Pay creates an automatically captured PaymentIntent.
func (s *Stripe) Pay(ctx context.Context, order *domain.Order, gctx *Context) (*Intent, error) {
	const op = "gateway.stripe.pay"

	sc, err := s.client(gctx)
	if err != nil {
		return nil, domain.WithOp(err, op)
	}
	amount, currency, err := gctx.ChargeAmount(order.GrandTotal)
	if err != nil {
		return nil, err
	}

	metadata := gctx.metadata(map[string]string{
		"tenant_id":    order.TenantID.String(),
		"order_id":     order.ID.String(),
		"order_number": order.OrderNumber,
	})
	params := &stripe.PaymentIntentCreateParams{
		Amount:        stripe.Int64(domain.MinorUnits(amount)),
		Currency:      stripe.String(strings.ToLower(currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodAutomatic)),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Description: stripe.String("Order " + order.OrderNumber),
	}
	if order.Email != "" {
		params.ReceiptEmail = stripe.String(order.Email)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := sc.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		s.logger.Error("create payment intent", "order_id", order.ID, "error", err)
		return nil, failure(err, op, "Card payment could not be started")
	}

	return &Intent{
		Provider:          StripeKey,
		ProviderReference: pi.ID,
		ClientSecret:      pi.ClientSecret,
		Amount:            amount,
		Currency:          currency,
		Metadata:          metadata,
	}, nil
}

// Verify checks the Stripe-Signature header (HMAC-SHA256 over
// "timestamp.payload", constant-time, 5 minute tolerance) and maps the event.
func (s *Stripe) Verify(_ context.Context, payload []byte, headers http.Header, gctx *Context) (*Verification, error) {
	const op = "gateway.stripe.verify"

	if gctx.WebhookSecret == "" {
		return nil, domain.WithOp(ErrUnauthorized, op)
	}
	event, err := webhook.ConstructEventWithOptions(payload, headers.Get("Stripe-Signature"), gctx.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrTooOld) {
			return nil, domain.WithOp(ErrUnauthorized, op)
		}
		return nil, domain.WrapError(err, domain.EINVALID, op, ErrMalformedPayload.Message)
	}

	v := &Verification{
		Provider:  StripeKey,
		EventType: string(event.Type),
		EventID:   event.ID,
	}

	if event.Type == "charge.refunded" {
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, domain.WrapError(err, domain.EINVALID, op, ErrMalformedPayload.Message)
		}
		if ch.PaymentIntent == nil || ch.PaymentIntent.ID == "" {
			return nil, domain.WithOp(ErrMalformedPayload, op)
		}
		v.ProviderReference = ch.PaymentIntent.ID
		v.Status = domain.PaymentRefunded
		v.Amount = domain.FromMinorUnits(ch.AmountRefunded)
		v.Currency = domain.NormalizeCurrency(string(ch.Currency))
		return v, nil
	}

	// Stripe delivers every event type the endpoint subscribes to. Anything
	// without a payment status is acknowledged and left alone.
	if !strings.HasPrefix(string(event.Type), "payment_intent.") {
		return v, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, domain.WrapError(err, domain.EINVALID, op, ErrMalformedPayload.Message)
	}
	v.ProviderReference = pi.ID
	status, err := StripeStatus(string(event.Type), string(pi.Status))
	if errors.Is(err, ErrUnknownStatus) {
		return v, nil
	}
	if err != nil {
		return nil, domain.WithOp(err, op)
	}
	v.Status = status
	v.Amount = domain.FromMinorUnits(pi.Amount)
	if status == domain.PaymentCaptured && pi.AmountReceived > 0 {
		v.Amount = domain.FromMinorUnits(pi.AmountReceived)
	}
	v.Currency = domain.NormalizeCurrency(string(pi.Currency))
	return v, nil
}

// StripeStatus maps an event type, falling back to the PaymentIntent status.
func StripeStatus(eventType, intentStatus string) (domain.PaymentStatus, error) {
	switch eventType {
	case "payment_intent.succeeded":
		return domain.PaymentCaptured, nil
	case "payment_intent.amount_capturable_updated":
		return domain.PaymentAuthorized, nil
	case "payment_intent.created", "payment_intent.processing", "payment_intent.requires_action":
		return domain.PaymentPending, nil
	case "payment_intent.payment_failed", "payment_intent.canceled":
		return domain.PaymentFailed, nil
	case "charge.refunded":
		return domain.PaymentRefunded, nil
	}

	switch intentStatus {
	case "succeeded":
		return domain.PaymentCaptured, nil
	case "requires_capture":
		return domain.PaymentAuthorized, nil
	case "processing", "requires_payment_method", "requires_confirmation", "requires_action":
		return domain.PaymentPending, nil
	case "canceled":
		return domain.PaymentFailed, nil
	}
	return "", ErrUnknownStatus
}

// Cancel voids an uncaptured PaymentIntent. Stripe refuses once the intent
// has succeeded or is processing, and that refusal is returned as is.
func (s *Stripe) Cancel(ctx context.Context, reference string, gctx *Context) error {
	const op = "gateway.stripe.cancel"

	sc, err := s.client(gctx)
	if err != nil {
		return domain.WithOp(err, op)
	}
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.SetIdempotencyKey("cancel-" + reference)
	if _, err := sc.V1PaymentIntents.Cancel(ctx, reference, params); err != nil {
		s.logger.Warn("cancel payment intent", "reference", reference, "error", err)
		return failure(err, op, "Card payment could not be cancelled")
	}
	return nil
}

// Refund creates a Stripe refund against the PaymentIntent.
func (s *Stripe) Refund(ctx context.Context, p RefundParams, gctx *Context) (*RefundResult, error) {
	const op = "gateway.stripe.refund"

	sc, err := s.client(gctx)
	if err != nil {
		return nil, domain.WithOp(err, op)
	}
	amount, _, err := gctx.ChargeAmount(p.Amount)
	if err != nil {
		return nil, err
	}

	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(p.ProviderReference),
		Amount:        stripe.Int64(domain.MinorUnits(amount)),
	}
	params.AddMetadata("refund_request_id", p.RefundID.String())
	params.SetIdempotencyKey("refund-" + p.RefundID.String())

	r, err := sc.V1Refunds.Create(ctx, params)
	if err != nil {
		s.logger.Error("create refund", "reference", p.ProviderReference, "error", err)
		return nil, failure(err, op, "Card refund failed")
	}
	if r.Status == stripe.RefundStatusFailed || r.Status == stripe.RefundStatusCanceled {
		return nil, domain.GatewayFailure(nil, op, "Card refund was "+string(r.Status))
	}
	return &RefundResult{ProviderReference: r.ID, Status: domain.PaymentRefunded}, nil
}
