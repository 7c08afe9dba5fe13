package reconcile_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/gateway"
	"github.com/dukerupert/kasse/internal/notify"
	"github.com/dukerupert/kasse/internal/reconcile"
	"github.com/dukerupert/kasse/internal/repository"
	"github.com/dukerupert/kasse/internal/repository/memstore"
	"github.com/dukerupert/kasse/internal/telemetry"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// verifierFunc lets each test script the verified event.
type verifierFunc func(ctx context.Context, tenant domain.TenantRef, provider string, payload []byte, headers http.Header) (*gateway.Verification, *gateway.Context, error)

func (f verifierFunc) Verify(ctx context.Context, tenant domain.TenantRef, provider string, payload []byte, headers http.Header) (*gateway.Verification, *gateway.Context, error) {
	return f(ctx, tenant, provider, payload, headers)
}

// statusVerifier treats the payload as the provider status for reference pi_1.
func statusVerifier(amount string) verifierFunc {
	return func(_ context.Context, _ domain.TenantRef, provider string, payload []byte, _ http.Header) (*gateway.Verification, *gateway.Context, error) {
		return &gateway.Verification{
			Provider:          provider,
			ProviderReference: "pi_1",
			Status:            domain.PaymentStatus(payload),
			Amount:            decimal.RequireFromString(amount),
			Currency:          "USD",
			EventType:         "test." + string(payload),
		}, &gateway.Context{Currency: "", SettlementCurrency: "USD"}, nil
	}
}

type fixture struct {
	store    *memstore.Store
	tenant   domain.TenantRef
	order    domain.Order
	coupon   domain.Coupon
	variant  uuid.UUID
	rec      *notify.Recorder
	metrics  *telemetry.BusinessMetrics
	verifier reconcile.Verifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New(nil)
	tenant := domain.TenantRef{ID: uuid.New(), Identifier: "acme"}
	variant := uuid.New()
	coupon := domain.Coupon{ID: uuid.New(), TenantID: tenant.ID, Code: "SAVE", Active: true}
	store.AddCoupon(coupon)
	store.SetStock(tenant.ID, repository.StockLevel{VariantID: variant, OnHand: 5})

	order := domain.Order{
		ID:              uuid.New(),
		TenantID:        tenant.ID,
		OrderNumber:     "ORD-20260314-7KQ2MX",
		Email:           "ada@example.com",
		Status:          domain.OrderPending,
		Currency:        "USD",
		GrandTotal:      decimal.RequireFromString("115.50"),
		CouponID:        &coupon.ID,
		PaymentProvider: "stripe",
		Items: []domain.OrderItem{
			{ID: uuid.New(), VariantID: variant, SKU: "MUG-RED", Quantity: 2, UnitPrice: decimal.RequireFromString("25"), LineTotal: decimal.RequireFromString("50")},
		},
		Transactions: []domain.PaymentTransaction{
			{ID: uuid.New(), TenantID: tenant.ID, Provider: "stripe", ProviderReference: "pi_1", Status: domain.PaymentPending},
		},
	}
	for i := range order.Transactions {
		order.Transactions[i].OrderID = order.ID
	}
	store.AddOrder(order)

	return &fixture{
		store:    store,
		tenant:   tenant,
		order:    order,
		coupon:   coupon,
		variant:  variant,
		rec:      &notify.Recorder{},
		metrics:  telemetry.NewBusinessMetrics("test", prometheus.NewRegistry()),
		verifier: statusVerifier("115.50"),
	}
}

func (f *fixture) reconciler() *reconcile.Reconciler {
	return reconcile.NewReconciler(f.store, f.verifier, notify.NewNotifier(f.rec, nil, nil), nil, f.metrics)
}

func (f *fixture) deliver(t *testing.T, r *reconcile.Reconciler, status domain.PaymentStatus) *reconcile.Outcome {
	t.Helper()
	out, err := r.Handle(context.Background(), f.tenant, "stripe", []byte(status), http.Header{})
	require.NoError(t, err)
	return out
}

func (f *fixture) orderStatus(t *testing.T) domain.OrderStatus {
	t.Helper()
	o, err := f.store.GetOrder(context.Background(), f.tenant.ID, f.order.ID)
	require.NoError(t, err)
	return o.Status
}

func TestHandle_CaptureMarksOrderPaid(t *testing.T) {
	f := newFixture(t)
	out := f.deliver(t, f.reconciler(), domain.PaymentCaptured)

	assert.True(t, out.Applied)
	assert.Equal(t, domain.PaymentCaptured, out.Status)
	assert.Equal(t, domain.OrderPaid, out.OrderStatus)
	assert.Equal(t, f.order.ID, out.OrderID)

	assert.Equal(t, domain.OrderPaid, f.orderStatus(t))
	assert.Equal(t, 3, f.store.Stock(f.tenant.ID, f.variant).OnHand, "stock committed at capture")
	assert.Equal(t, 1, f.store.Coupon(f.coupon.ID).RedemptionCount)
	assert.Equal(t, []string{notify.KindOrderPaid}, f.rec.Kinds())
	sent := f.rec.Sent()[0]
	assert.Equal(t, "ada@example.com", sent.Email)
	assert.Equal(t, "pi_1", sent.Reference)
}

func TestHandle_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler()

	first := f.deliver(t, r, domain.PaymentCaptured)
	second := f.deliver(t, r, domain.PaymentCaptured)

	assert.True(t, first.Applied)
	assert.True(t, second.Duplicate)
	assert.False(t, second.Applied)

	captured := 0
	for _, txn := range f.store.Transactions(f.order.ID) {
		if txn.Status == domain.PaymentCaptured {
			captured++
		}
	}
	assert.Equal(t, 1, captured, "one ledger row per key")
	assert.Len(t, f.rec.Sent(), 1, "one notification")
	assert.Equal(t, 3, f.store.Stock(f.tenant.ID, f.variant).OnHand, "stock committed once")
	assert.Equal(t, 1, f.store.Coupon(f.coupon.ID).RedemptionCount)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WebhookOutcome.WithLabelValues(f.tenant.ID.String(), "stripe", reconcile.ResultDuplicate)))
}

func TestHandle_StaleEventAfterCapture(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler()

	f.deliver(t, r, domain.PaymentCaptured)
	out := f.deliver(t, r, domain.PaymentAuthorized)

	assert.True(t, out.Stale)
	assert.Equal(t, domain.PaymentCaptured, out.Status)
	assert.Equal(t, domain.OrderPaid, f.orderStatus(t))
	assert.Len(t, f.store.Transactions(f.order.ID), 2, "stale events are not recorded")

	out = f.deliver(t, r, domain.PaymentFailed)
	assert.True(t, out.Stale, "a captured payment cannot fail")
	assert.Equal(t, []string{notify.KindOrderPaid}, f.rec.Kinds())
}

func TestHandle_AuthorizedThenCaptured(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler()

	out := f.deliver(t, r, domain.PaymentAuthorized)
	assert.True(t, out.Applied)
	assert.Equal(t, domain.OrderPending, f.orderStatus(t))
	assert.Empty(t, f.rec.Sent())

	out = f.deliver(t, r, domain.PaymentCaptured)
	assert.True(t, out.Applied)
	assert.Equal(t, domain.OrderPaid, f.orderStatus(t))
}

func TestHandle_FailedLeavesOrderPending(t *testing.T) {
	f := newFixture(t)
	out := f.deliver(t, f.reconciler(), domain.PaymentFailed)

	assert.True(t, out.Applied)
	assert.Equal(t, domain.OrderPending, f.orderStatus(t))
	assert.Equal(t, []string{notify.KindPaymentFailed}, f.rec.Kinds())
	assert.Equal(t, 5, f.store.Stock(f.tenant.ID, f.variant).OnHand)
}

func TestHandle_RefundCoveringGrandTotal(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler()
	f.deliver(t, r, domain.PaymentCaptured)

	out := f.deliver(t, r, domain.PaymentRefunded)
	assert.True(t, out.Applied)
	assert.Equal(t, domain.OrderRefunded, out.OrderStatus)
	assert.Equal(t, domain.OrderRefunded, f.orderStatus(t))
}

func TestHandle_PartialRefundKeepsOrderPaid(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, f.reconciler(), domain.PaymentCaptured)

	f.verifier = statusVerifier("20.00")
	out := f.deliver(t, f.reconciler(), domain.PaymentRefunded)
	assert.True(t, out.Applied)
	assert.Equal(t, domain.OrderPaid, f.orderStatus(t))
}

func TestHandle_RefundInSettlementCurrency(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, f.reconciler(), domain.PaymentCaptured)

	f.verifier = verifierFunc(func(context.Context, domain.TenantRef, string, []byte, http.Header) (*gateway.Verification, *gateway.Context, error) {
		return &gateway.Verification{ProviderReference: "pi_1", Status: domain.PaymentRefunded, Amount: decimal.RequireFromString("106.26"), Currency: "EUR"},
			&gateway.Context{SettlementCurrency: "EUR", Rates: map[string]decimal.Decimal{"USD": decimal.RequireFromString("0.92")}}, nil
	})
	out := f.deliver(t, f.reconciler(), domain.PaymentRefunded)
	assert.Equal(t, domain.OrderRefunded, out.OrderStatus, "106.26 EUR / 0.92 = 115.50 USD")
}

func TestHandle_OversellIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.store.SetStock(f.tenant.ID, repository.StockLevel{VariantID: f.variant, OnHand: 1})

	out := f.deliver(t, f.reconciler(), domain.PaymentCaptured)
	assert.True(t, out.Applied)
	assert.Equal(t, -1, f.store.Stock(f.tenant.ID, f.variant).OnHand)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StockOversold.WithLabelValues(f.tenant.ID.String())))
}

func TestHandle_SecondCaptureOnPaidOrder(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.AppendTransaction(context.Background(), &domain.PaymentTransaction{
		TenantID: f.tenant.ID, OrderID: f.order.ID, Provider: "stripe", ProviderReference: "pi_2", Status: domain.PaymentPending,
	}))
	f.deliver(t, f.reconciler(), domain.PaymentCaptured)

	f.verifier = verifierFunc(func(context.Context, domain.TenantRef, string, []byte, http.Header) (*gateway.Verification, *gateway.Context, error) {
		return &gateway.Verification{ProviderReference: "pi_2", Status: domain.PaymentCaptured, Amount: decimal.RequireFromString("115.50"), Currency: "USD"}, &gateway.Context{}, nil
	})
	out := f.deliver(t, f.reconciler(), domain.PaymentCaptured)

	assert.True(t, out.Applied, "the money movement is still recorded")
	assert.Equal(t, domain.OrderPaid, out.OrderStatus)
	var refs []string
	for _, txn := range f.store.Transactions(f.order.ID) {
		if txn.Status == domain.PaymentCaptured {
			refs = append(refs, txn.ProviderReference)
		}
	}
	assert.Equal(t, []string{"pi_1", "pi_2"}, refs)

	assert.Equal(t, []string{notify.KindOrderPaid}, f.rec.Kinds(), "no second order.paid")
	assert.Equal(t, 3, f.store.Stock(f.tenant.ID, f.variant).OnHand, "stock committed once")
	assert.Equal(t, 1, f.store.Coupon(f.coupon.ID).RedemptionCount)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StrayCaptures.WithLabelValues(f.tenant.ID.String(), "stripe")))
}

func TestHandle_CaptureOnCancelledOrderReportsRealStatus(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.InTx(context.Background(), func(q repository.Querier) error {
		return q.UpdateOrderStatus(context.Background(), f.tenant.ID, f.order.ID, domain.OrderCancelled)
	}))

	out := f.deliver(t, f.reconciler(), domain.PaymentCaptured)
	assert.True(t, out.Applied)
	assert.Equal(t, domain.OrderCancelled, out.OrderStatus)
	assert.Equal(t, domain.OrderCancelled, f.orderStatus(t))
	assert.Empty(t, f.rec.Sent())
	assert.Equal(t, 5, f.store.Stock(f.tenant.ID, f.variant).OnHand)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StrayCaptures.WithLabelValues(f.tenant.ID.String(), "stripe")))
}

func TestHandle_IgnoredEventIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.verifier = verifierFunc(func(context.Context, domain.TenantRef, string, []byte, http.Header) (*gateway.Verification, *gateway.Context, error) {
		return &gateway.Verification{EventType: "customer.created", EventID: "evt_9"}, &gateway.Context{}, nil
	})

	out, err := f.reconciler().Handle(context.Background(), f.tenant, "stripe", []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.True(t, out.Ignored)
	assert.Equal(t, reconcile.ResultIgnored, out.Result())
	assert.Len(t, f.store.Transactions(f.order.ID), 1)
	assert.Empty(t, f.rec.Sent())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WebhookOutcome.WithLabelValues(f.tenant.ID.String(), "stripe", reconcile.ResultIgnored)))
}

func TestHandle_Errors(t *testing.T) {
	t.Run("unauthorized", func(t *testing.T) {
		f := newFixture(t)
		f.verifier = verifierFunc(func(context.Context, domain.TenantRef, string, []byte, http.Header) (*gateway.Verification, *gateway.Context, error) {
			return nil, nil, gateway.ErrUnauthorized
		})
		_, err := f.reconciler().Handle(context.Background(), f.tenant, "stripe", []byte("captured"), http.Header{})
		assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
		assert.Len(t, f.store.Transactions(f.order.ID), 1)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WebhookOutcome.WithLabelValues(f.tenant.ID.String(), "stripe", reconcile.ResultUnauthorized)))
	})

	t.Run("unknown reference", func(t *testing.T) {
		f := newFixture(t)
		f.verifier = verifierFunc(func(context.Context, domain.TenantRef, string, []byte, http.Header) (*gateway.Verification, *gateway.Context, error) {
			return &gateway.Verification{ProviderReference: "pi_unknown", Status: domain.PaymentCaptured}, &gateway.Context{}, nil
		})
		_, err := f.reconciler().Handle(context.Background(), f.tenant, "stripe", nil, http.Header{})
		assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
		assert.Empty(t, f.rec.Sent())
	})

	t.Run("other tenant", func(t *testing.T) {
		f := newFixture(t)
		other := domain.TenantRef{ID: uuid.New()}
		_, err := f.reconciler().Handle(context.Background(), other, "stripe", []byte("captured"), http.Header{})
		assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
		assert.Equal(t, domain.OrderPending, f.orderStatus(t))
	})

	t.Run("unknown status", func(t *testing.T) {
		f := newFixture(t)
		f.verifier = verifierFunc(func(context.Context, domain.TenantRef, string, []byte, http.Header) (*gateway.Verification, *gateway.Context, error) {
			return nil, nil, gateway.ErrUnknownStatus
		})
		_, err := f.reconciler().Handle(context.Background(), f.tenant, "stripe", nil, http.Header{})
		assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	})

	t.Run("no tenant", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.reconciler().Handle(context.Background(), domain.TenantRef{}, "stripe", nil, http.Header{})
		assert.ErrorIs(t, err, domain.ErrTenantRequired)
	})
}

type failingStore struct {
	*memstore.Store
}

func (s failingStore) InTx(context.Context, func(repository.Querier) error) error {
	return errors.New("connection reset")
}

func TestHandle_StoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	r := reconcile.NewReconciler(failingStore{f.store}, f.verifier, notify.NewNotifier(f.rec, nil, nil), nil, nil)

	_, err := r.Handle(context.Background(), f.tenant, "stripe", []byte("captured"), http.Header{})
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
	assert.Empty(t, f.rec.Sent(), "nothing is announced for an uncommitted transition")
}

func TestHandle_BankTransferEndToEnd(t *testing.T) {
	f := newFixture(t)
	bankOrder := domain.Order{
		ID: uuid.New(), TenantID: f.tenant.ID, OrderNumber: "ORD-20260314-BANK01", Status: domain.OrderPending,
		Currency: "USD", GrandTotal: decimal.RequireFromString("40.00"), PaymentProvider: gateway.BankTransferKey,
	}
	bankOrder.Transactions = []domain.PaymentTransaction{{
		ID: uuid.New(), TenantID: f.tenant.ID, OrderID: bankOrder.ID, Provider: gateway.BankTransferKey,
		ProviderReference: "BT-ORD-20260314-BANK01", Status: domain.PaymentPending,
	}}
	f.store.AddOrder(bankOrder)

	registry, err := gateway.NewRegistry(gateway.NewBankTransfer())
	require.NoError(t, err)
	settings := gateway.StaticSettings{"acme": {gateway.BankTransferKey: {WebhookSecret: "bank_secret"}}}
	orchestrator := gateway.NewOrchestrator(registry, settings, gateway.Config{}, nil, nil)
	r := reconcile.NewReconciler(f.store, orchestrator, notify.NewNotifier(f.rec, nil, nil), nil, nil)

	payload := []byte(`{"event_id":"b-1","reference":"BT-ORD-20260314-BANK01","status":"settled","amount":"40.00","currency":"USD"}`)
	headers := http.Header{}
	headers.Set(gateway.BankSignatureHeader, gateway.SignBase64("bank_secret", payload))

	out, err := r.Handle(context.Background(), f.tenant, gateway.BankTransferKey, payload, headers)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, domain.OrderPaid, out.OrderStatus)

	got, err := f.store.GetOrder(context.Background(), f.tenant.ID, bankOrder.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, got.Status)
	require.Len(t, got.Transactions, 2)
	assert.Equal(t, "b-1", got.Transactions[1].EventID)

	headers.Set(gateway.BankSignatureHeader, gateway.SignBase64("wrong", payload))
	_, err = r.Handle(context.Background(), f.tenant, gateway.BankTransferKey, payload, headers)
	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
}

