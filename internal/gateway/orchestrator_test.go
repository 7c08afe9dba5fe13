package gateway_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/gateway"
	"github.com/dukerupert/kasse/internal/telemetry"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway is a Gateway whose behaviour is set per test.
type fakeGateway struct {
	key        string
	PayFunc    func(ctx context.Context, order *domain.Order, gctx *gateway.Context) (*gateway.Intent, error)
	VerifyFunc func(ctx context.Context, payload []byte, headers http.Header, gctx *gateway.Context) (*gateway.Verification, error)
	RefundFunc func(ctx context.Context, p gateway.RefundParams, gctx *gateway.Context) (*gateway.RefundResult, error)
	CancelFunc func(ctx context.Context, reference string, gctx *gateway.Context) error
	calls      atomic.Int32
}

func (f *fakeGateway) Key() string { return f.key }

func (f *fakeGateway) Pay(ctx context.Context, order *domain.Order, gctx *gateway.Context) (*gateway.Intent, error) {
	f.calls.Add(1)
	if f.PayFunc != nil {
		return f.PayFunc(ctx, order, gctx)
	}
	return &gateway.Intent{Provider: f.key, ProviderReference: "ref_" + order.OrderNumber, Amount: order.GrandTotal, Currency: gctx.Currency}, nil
}

func (f *fakeGateway) Verify(ctx context.Context, payload []byte, headers http.Header, gctx *gateway.Context) (*gateway.Verification, error) {
	if f.VerifyFunc != nil {
		return f.VerifyFunc(ctx, payload, headers, gctx)
	}
	return &gateway.Verification{ProviderReference: string(payload), Status: domain.PaymentCaptured}, nil
}

func (f *fakeGateway) Refund(ctx context.Context, p gateway.RefundParams, gctx *gateway.Context) (*gateway.RefundResult, error) {
	f.calls.Add(1)
	if f.RefundFunc != nil {
		return f.RefundFunc(ctx, p, gctx)
	}
	return &gateway.RefundResult{ProviderReference: "re_1", Status: domain.PaymentRefunded}, nil
}

func (f *fakeGateway) Cancel(ctx context.Context, reference string, gctx *gateway.Context) error {
	f.calls.Add(1)
	if f.CancelFunc != nil {
		return f.CancelFunc(ctx, reference, gctx)
	}
	return nil
}

var acme = domain.TenantRef{ID: uuid.MustParse("8b7c5a0e-1d7f-4b8e-9a35-2f0b1c1d2e3f"), Identifier: "acme"}

func testOrder() *domain.Order {
	return &domain.Order{
		ID:          uuid.New(),
		TenantID:    acme.ID,
		OrderNumber: "ORD-20260101-ABC123",
		Currency:    "USD",
		GrandTotal:  decimal.RequireFromString("42.50"),
	}
}

func newOrchestrator(t *testing.T, settings gateway.SettingsSource, cfg gateway.Config, gs ...gateway.Gateway) *gateway.Orchestrator {
	t.Helper()
	reg, err := gateway.NewRegistry(gs...)
	require.NoError(t, err)
	return gateway.NewOrchestrator(reg, settings, cfg, nil, nil)
}

func TestRegistry(t *testing.T) {
	reg, err := gateway.NewRegistry(&fakeGateway{key: "wallet"}, &fakeGateway{key: "stripe"})
	require.NoError(t, err)
	assert.Equal(t, []string{"stripe", "wallet"}, reg.Keys())

	assert.Error(t, reg.Register(&fakeGateway{key: "stripe"}), "duplicate key")

	_, err = reg.Lookup("Stripe")
	assert.Equal(t, domain.EPROVIDER, domain.ErrorCode(err), "keys match exactly")
	assert.Equal(t, "An internal error occurred. Please try again later.", domain.ErrorMessage(err))

	_, err = gateway.NewRegistry(&fakeGateway{key: "x"}, &fakeGateway{key: "x"})
	assert.Error(t, err)
}

func TestOrchestrator_ContextLayering(t *testing.T) {
	settings := gateway.StaticSettings{
		gateway.DefaultTenantKey: {
			"":       {Currency: "USD", ReturnURL: "https://shop.example/return", Metadata: map[string]string{"platform": "kasse"}},
			"stripe": {APIKey: "sk_default", WebhookSecret: "whsec_default"},
		},
		acme.ID.String(): {
			"stripe": {WebhookSecret: "whsec_by_id"},
		},
		"acme": {
			"":       {Currency: "EUR", Rates: map[string]string{"usd": "0.92"}},
			"stripe": {APIKey: "sk_acme", BaseURL: "https://api.example/"},
		},
	}
	o := newOrchestrator(t, settings, gateway.Config{})

	gctx, err := o.Context(context.Background(), acme, "stripe", "usd")
	require.NoError(t, err)
	assert.Equal(t, "sk_acme", gctx.APIKey, "identifier beats id and default")
	assert.Empty(t, gctx.WebhookSecret, "only the first matching provider layer is used")
	assert.Equal(t, "https://api.example", gctx.BaseURL)
	assert.Equal(t, "USD", gctx.Currency)
	assert.Equal(t, "EUR", gctx.SettlementCurrency, "tenant-level currency fills the provider layer")
	assert.True(t, gctx.Rates["USD"].Equal(decimal.RequireFromString("0.92")))
	assert.Empty(t, gctx.ReturnURL, "default tenant layer is shadowed by the identifier layer")

	other := domain.TenantRef{ID: uuid.New()}
	gctx, err = o.Context(context.Background(), other, "stripe", "USD")
	require.NoError(t, err)
	assert.Equal(t, "sk_default", gctx.APIKey)
	assert.Equal(t, "whsec_default", gctx.WebhookSecret)
	assert.Equal(t, "https://shop.example/return", gctx.ReturnURL)
	assert.Equal(t, "kasse", gctx.Metadata["platform"])
	assert.Equal(t, "USD", gctx.SettlementCurrency)

	byID := domain.TenantRef{ID: acme.ID}
	gctx, err = o.Context(context.Background(), byID, "stripe", "USD")
	require.NoError(t, err)
	assert.Equal(t, "whsec_by_id", gctx.WebhookSecret)
	assert.Empty(t, gctx.APIKey)
}

func TestOrchestrator_ContextErrors(t *testing.T) {
	o := newOrchestrator(t, gateway.StaticSettings{
		"acme": {"": {Rates: map[string]string{"USD": "abc"}}},
	}, gateway.Config{})

	_, err := o.Context(context.Background(), domain.TenantRef{}, "stripe", "USD")
	assert.ErrorIs(t, err, domain.ErrTenantRequired)

	_, err = o.Context(context.Background(), acme, "stripe", "USD")
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))

	failing := newOrchestrator(t, settingsFunc(func(context.Context, string, string) (*gateway.Settings, error) {
		return nil, errors.New("db down")
	}), gateway.Config{})
	_, err = failing.Context(context.Background(), acme, "stripe", "USD")
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
}

func TestContext_ChargeAmount(t *testing.T) {
	same := &gateway.Context{Currency: "USD", SettlementCurrency: "USD"}
	amt, cur, err := same.ChargeAmount(decimal.RequireFromString("10.005"))
	require.NoError(t, err)
	assert.Equal(t, "USD", cur)
	assert.Equal(t, "10.01", amt.StringFixed(2))

	converted := &gateway.Context{
		Currency:           "USD",
		SettlementCurrency: "EUR",
		Rates:              map[string]decimal.Decimal{"USD": decimal.RequireFromString("0.92")},
	}
	amt, cur, err = converted.ChargeAmount(decimal.RequireFromString("100"))
	require.NoError(t, err)
	assert.Equal(t, "EUR", cur)
	assert.Equal(t, "92.00", amt.StringFixed(2))

	back, err := converted.OrderAmount(decimal.RequireFromString("92"), "eur")
	require.NoError(t, err)
	assert.Equal(t, "100.00", back.StringFixed(2))

	passthrough, err := converted.OrderAmount(decimal.RequireFromString("5"), "USD")
	require.NoError(t, err)
	assert.Equal(t, "5", passthrough.String())

	_, err = converted.OrderAmount(decimal.RequireFromString("5"), "GBP")
	assert.ErrorIs(t, err, gateway.ErrNoConversionRate)

	norate := &gateway.Context{Currency: "USD", SettlementCurrency: "EUR"}
	_, _, err = norate.ChargeAmount(decimal.NewFromInt(1))
	assert.ErrorIs(t, err, gateway.ErrNoConversionRate)
}

func TestOrchestrator_Pay(t *testing.T) {
	var seen *gateway.Context
	fake := &fakeGateway{key: "wallet", PayFunc: func(_ context.Context, order *domain.Order, gctx *gateway.Context) (*gateway.Intent, error) {
		seen = gctx
		return &gateway.Intent{Provider: "wallet", ProviderReference: "w_1", Amount: order.GrandTotal, Currency: gctx.Currency}, nil
	}}
	o := newOrchestrator(t, gateway.StaticSettings{
		"acme": {"wallet": {APIKey: "k", Metadata: map[string]string{"channel": "web"}}},
	}, gateway.Config{}, fake)

	intent, err := o.Pay(context.Background(), acme, "wallet", testOrder(), map[string]string{"cart_id": "c1"})
	require.NoError(t, err)
	assert.Equal(t, "w_1", intent.ProviderReference)
	require.NotNil(t, seen)
	assert.Equal(t, "k", seen.APIKey)
	assert.Equal(t, map[string]string{"channel": "web", "cart_id": "c1"}, seen.Metadata)

	_, err = o.Pay(context.Background(), acme, "paypal", testOrder(), nil)
	assert.Equal(t, domain.EPROVIDER, domain.ErrorCode(err))
}

func TestOrchestrator_BreakerOpensOnGatewayFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewBusinessMetrics("test", reg)

	fake := &fakeGateway{key: "wallet", PayFunc: func(context.Context, *domain.Order, *gateway.Context) (*gateway.Intent, error) {
		return nil, domain.GatewayFailure(errors.New("502"), "fake.pay", "upstream down")
	}}
	registry, err := gateway.NewRegistry(fake)
	require.NoError(t, err)
	o := gateway.NewOrchestrator(registry, gateway.StaticSettings{}, gateway.Config{BreakerFailures: 2, BreakerOpenFor: time.Minute}, nil, metrics)

	for range 2 {
		_, err := o.Pay(context.Background(), acme, "wallet", testOrder(), nil)
		assert.Equal(t, domain.EGATEWAY, domain.ErrorCode(err))
	}
	require.Equal(t, int32(2), fake.calls.Load())

	_, err = o.Pay(context.Background(), acme, "wallet", testOrder(), nil)
	assert.ErrorIs(t, err, gateway.ErrBreakerOpen)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, int32(2), fake.calls.Load(), "open breaker does not reach the provider")
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.BreakerState.WithLabelValues("wallet")))
}

func TestOrchestrator_BreakerIgnoresValidationErrors(t *testing.T) {
	fake := &fakeGateway{key: "wallet", PayFunc: func(context.Context, *domain.Order, *gateway.Context) (*gateway.Intent, error) {
		return nil, domain.Invalid("fake.pay", "bad currency")
	}}
	o := newOrchestrator(t, gateway.StaticSettings{}, gateway.Config{BreakerFailures: 1}, fake)

	for range 3 {
		_, err := o.Pay(context.Background(), acme, "wallet", testOrder(), nil)
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	}
	assert.Equal(t, int32(3), fake.calls.Load())
}

func TestOrchestrator_BreakersArePerProvider(t *testing.T) {
	down := &fakeGateway{key: "wallet", PayFunc: func(context.Context, *domain.Order, *gateway.Context) (*gateway.Intent, error) {
		return nil, domain.GatewayFailure(nil, "fake.pay", "down")
	}}
	up := &fakeGateway{key: "banktransfer"}
	o := newOrchestrator(t, gateway.StaticSettings{}, gateway.Config{BreakerFailures: 1, BreakerOpenFor: time.Minute}, down, up)

	_, _ = o.Pay(context.Background(), acme, "wallet", testOrder(), nil)
	_, err := o.Pay(context.Background(), acme, "wallet", testOrder(), nil)
	assert.ErrorIs(t, err, gateway.ErrBreakerOpen)

	_, err = o.Pay(context.Background(), acme, "banktransfer", testOrder(), nil)
	assert.NoError(t, err)
}

func TestOrchestrator_Timeout(t *testing.T) {
	slow := &fakeGateway{key: "wallet", PayFunc: func(ctx context.Context, _ *domain.Order, _ *gateway.Context) (*gateway.Intent, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	o := newOrchestrator(t, gateway.StaticSettings{}, gateway.Config{Timeout: 20 * time.Millisecond}, slow)

	_, err := o.Pay(context.Background(), acme, "wallet", testOrder(), nil)
	assert.ErrorIs(t, err, gateway.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.EGATEWAY, domain.ErrorCode(err))
}

func TestOrchestrator_VerifyAndRefund(t *testing.T) {
	fake := &fakeGateway{key: "wallet"}
	o := newOrchestrator(t, gateway.StaticSettings{
		"acme": {"": {Currency: "EUR"}, "wallet": {WebhookSecret: "s"}},
	}, gateway.Config{}, fake)

	v, gctx, err := o.Verify(context.Background(), acme, "wallet", []byte("w_9"), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, "wallet", v.Provider, "provider is stamped by the orchestrator")
	assert.Equal(t, "w_9", v.ProviderReference)
	assert.Equal(t, "s", gctx.WebhookSecret)
	assert.Equal(t, "EUR", gctx.SettlementCurrency)

	fake.VerifyFunc = func(context.Context, []byte, http.Header, *gateway.Context) (*gateway.Verification, error) {
		return nil, gateway.ErrUnauthorized
	}
	_, _, err = o.Verify(context.Background(), acme, "wallet", nil, http.Header{})
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)
	assert.Equal(t, "gateway.verify", domain.ErrorOp(err))

	res, err := o.Refund(context.Background(), acme, "wallet", gateway.RefundParams{RefundID: uuid.New(), ProviderReference: "w_9", Amount: decimal.NewFromInt(5), Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRefunded, res.Status)
}

func TestOrchestrator_Cancel(t *testing.T) {
	var got string
	fake := &fakeGateway{key: "wallet", CancelFunc: func(_ context.Context, reference string, gctx *gateway.Context) error {
		got = reference
		assert.Equal(t, "k", gctx.APIKey)
		return nil
	}}
	o := newOrchestrator(t, gateway.StaticSettings{"acme": {"wallet": {APIKey: "k"}}}, gateway.Config{}, fake)

	require.NoError(t, o.Cancel(context.Background(), acme, "wallet", "w_1"))
	assert.Equal(t, "w_1", got)

	fake.CancelFunc = func(context.Context, string, *gateway.Context) error {
		return domain.Conflict("gateway.wallet.cancel", "already completed")
	}
	err := o.Cancel(context.Background(), acme, "wallet", "w_1")
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))

	err = o.Cancel(context.Background(), acme, "paypal", "x")
	assert.Error(t, err)
}

func mustDecimal(s string) decimal.Decimal { return decimal.RequireFromString(s) }
