package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/telemetry"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
)

// Config tunes provider calls.
type Config struct {
	// Timeout bounds every Pay and Refund call.
	Timeout time.Duration
	// BreakerFailures is the number of consecutive GatewayFailures that open
	// a provider's breaker.
	BreakerFailures uint32
	// BreakerOpenFor is how long an open breaker rejects calls.
	BreakerOpenFor time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerOpenFor <= 0 {
		c.BreakerOpenFor = 30 * time.Second
	}
	return c
}

// Orchestrator resolves a provider and its per-tenant Context and delegates
// to the matching Gateway.
type Orchestrator struct {
	registry *Registry
	settings SettingsSource
	cfg      Config
	logger   *slog.Logger
	metrics  *telemetry.BusinessMetrics

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewOrchestrator creates an orchestrator. metrics may be nil.
func NewOrchestrator(registry *Registry, settings SettingsSource, cfg Config, logger *slog.Logger, metrics *telemetry.BusinessMetrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry: registry,
		settings: settings,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		metrics:  metrics,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Context layers tenant settings (by identifier, then id, then default) under
// provider settings resolved the same way, then applies the order currency.
func (o *Orchestrator) Context(ctx context.Context, tenant domain.TenantRef, provider, currency string) (*Context, error) {
	const op = "gateway.context"

	if err := tenant.Validate(); err != nil {
		return nil, domain.WithOp(err, op)
	}

	keys := make([]string, 0, 3)
	if tenant.Identifier != "" {
		keys = append(keys, tenant.Identifier)
	}
	keys = append(keys, tenant.ID.String(), DefaultTenantKey)

	tenantLevel, err := o.first(ctx, keys, "")
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load tenant payment settings")
	}
	merged, err := o.first(ctx, keys, provider)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load provider payment settings")
	}
	if merged == nil {
		merged = &Settings{}
	}
	merged.fill(tenantLevel)

	gctx := &Context{
		Tenant:             tenant,
		Provider:           provider,
		Currency:           domain.NormalizeCurrency(currency),
		SettlementCurrency: domain.NormalizeCurrency(merged.Currency),
		APIKey:             merged.APIKey,
		WebhookSecret:      merged.WebhookSecret,
		BaseURL:            strings.TrimRight(merged.BaseURL, "/"),
		ReturnURL:          merged.ReturnURL,
		Metadata:           merged.Metadata,
	}
	if gctx.SettlementCurrency == "" {
		gctx.SettlementCurrency = gctx.Currency
	}
	if len(merged.Rates) > 0 {
		gctx.Rates = make(map[string]decimal.Decimal, len(merged.Rates))
		for code, raw := range merged.Rates {
			rate, err := decimal.NewFromString(strings.TrimSpace(raw))
			if err != nil || !rate.IsPositive() {
				return nil, domain.Errorf(domain.EINTERNAL, op, "invalid conversion rate for %s", code)
			}
			gctx.Rates[domain.NormalizeCurrency(code)] = rate
		}
	}
	return gctx, nil
}

func (o *Orchestrator) first(ctx context.Context, keys []string, provider string) (*Settings, error) {
	for _, k := range keys {
		s, err := o.settings.Lookup(ctx, k, provider)
		if err != nil {
			return nil, err
		}
		if s != nil {
			return s, nil
		}
	}
	return nil, nil
}

// Registered returns UnknownProvider when no gateway answers to provider.
func (o *Orchestrator) Registered(provider string) error {
	_, err := o.registry.Lookup(provider)
	return err
}

// Pay requests a payment intent for order from provider.
func (o *Orchestrator) Pay(ctx context.Context, tenant domain.TenantRef, provider string, order *domain.Order, metadata map[string]string) (*Intent, error) {
	const op = "gateway.pay"

	g, err := o.registry.Lookup(provider)
	if err != nil {
		return nil, err
	}
	gctx, err := o.Context(ctx, tenant, provider, order.Currency)
	if err != nil {
		return nil, err
	}
	gctx.Metadata = gctx.metadata(metadata)

	v, err := o.call(ctx, provider, "pay", func(cctx context.Context) (any, error) {
		return g.Pay(cctx, order, gctx)
	})
	o.metrics.IntentRequested(tenant.ID.String(), provider, err)
	if err != nil {
		o.logger.Warn("payment intent failed",
			"tenant_id", tenant.ID, "order_id", order.ID, "provider", provider, "error", err)
		return nil, domain.WithOp(err, op)
	}
	intent := v.(*Intent)
	o.logger.Info("payment intent created",
		"tenant_id", tenant.ID, "order_id", order.ID, "provider", provider, "reference", intent.ProviderReference)
	return intent, nil
}

// Verify authenticates and parses a provider callback. It does not pass
// through the breaker: no provider call is made.
func (o *Orchestrator) Verify(ctx context.Context, tenant domain.TenantRef, provider string, payload []byte, headers http.Header) (*Verification, *Context, error) {
	g, err := o.registry.Lookup(provider)
	if err != nil {
		return nil, nil, err
	}
	gctx, err := o.Context(ctx, tenant, provider, "")
	if err != nil {
		return nil, nil, err
	}
	v, err := g.Verify(ctx, payload, headers, gctx)
	if err != nil {
		return nil, nil, domain.WithOp(err, "gateway.verify")
	}
	v.Provider = provider
	return v, gctx, nil
}

// Refund returns money through provider.
func (o *Orchestrator) Refund(ctx context.Context, tenant domain.TenantRef, provider string, params RefundParams) (*RefundResult, error) {
	g, err := o.registry.Lookup(provider)
	if err != nil {
		return nil, err
	}
	gctx, err := o.Context(ctx, tenant, provider, params.Currency)
	if err != nil {
		return nil, err
	}
	v, err := o.call(ctx, provider, "refund", func(cctx context.Context) (any, error) {
		return g.Refund(cctx, params, gctx)
	})
	if err != nil {
		o.logger.Warn("refund failed",
			"tenant_id", tenant.ID, "provider", provider, "reference", params.ProviderReference, "error", err)
		return nil, domain.WithOp(err, "gateway.refund")
	}
	return v.(*RefundResult), nil
}

// Cancel voids an uncaptured intent so a retried checkout cannot be
// charged twice.
func (o *Orchestrator) Cancel(ctx context.Context, tenant domain.TenantRef, provider, reference string) error {
	g, err := o.registry.Lookup(provider)
	if err != nil {
		return err
	}
	gctx, err := o.Context(ctx, tenant, provider, "")
	if err != nil {
		return err
	}
	_, err = o.call(ctx, provider, "cancel", func(cctx context.Context) (any, error) {
		return nil, g.Cancel(cctx, reference, gctx)
	})
	if err != nil {
		o.logger.Warn("payment intent cancel failed",
			"tenant_id", tenant.ID, "provider", provider, "reference", reference, "error", err)
		return domain.WithOp(err, "gateway.cancel")
	}
	o.logger.Info("payment intent cancelled",
		"tenant_id", tenant.ID, "provider", provider, "reference", reference)
	return nil
}

// call runs fn under the provider's breaker with the configured timeout.
func (o *Orchestrator) call(ctx context.Context, provider, operation string, fn func(context.Context) (any, error)) (any, error) {
	started := time.Now()
	cctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	v, err := o.breaker(provider).Execute(func() (any, error) {
		v, err := fn(cctx)
		if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, domain.WrapError(err, domain.EGATEWAY, "gateway."+operation, ErrTimeout.Message)
		}
		return v, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = domain.WrapError(err, domain.EGATEWAY, "gateway."+operation, ErrBreakerOpen.Message)
	}
	o.metrics.GatewayCall(provider, operation, started, err)
	return v, err
}

func (o *Orchestrator) breaker(provider string) *gobreaker.CircuitBreaker[any] {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cb, ok := o.breakers[provider]; ok {
		return cb
	}
	failures := o.cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        provider,
		MaxRequests: 1,
		Timeout:     o.cfg.BreakerOpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		// Only provider outages count; validation and config errors do not.
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsCode(err, domain.EGATEWAY)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.logger.Warn("gateway breaker state changed", "provider", name, "from", from.String(), "to", to.String())
			o.metrics.Breaker(name, int(to))
		},
	})
	o.breakers[provider] = cb
	return cb
}
