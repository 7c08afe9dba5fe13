package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for checkout and settlement.
// Tenant-facing metrics carry a tenant_id label for per-tenant dashboards.
// All record methods are safe on a nil receiver.
type BusinessMetrics struct {
	// Checkout
	CheckoutCompleted *prometheus.CounterVec
	CheckoutFailed    *prometheus.CounterVec
	OrderValue        *prometheus.HistogramVec
	CouponRedemptions *prometheus.CounterVec

	// Payments
	PaymentIntents *prometheus.CounterVec
	GatewayLatency *prometheus.HistogramVec
	BreakerState   *prometheus.GaugeVec

	// Webhooks
	WebhookReceived *prometheus.CounterVec
	WebhookOutcome  *prometheus.CounterVec
	WebhookLatency  *prometheus.HistogramVec
	StrayCaptures   *prometheus.CounterVec

	// Refunds
	RefundDecisions *prometheus.CounterVec
	RefundAmount    *prometheus.CounterVec

	// Inventory
	StockOversold *prometheus.CounterVec

	// Notifications
	NotificationsEnqueued *prometheus.CounterVec
	NotificationsSent     *prometheus.CounterVec
}

// NewBusinessMetrics creates business metrics and registers them with reg.
// A nil reg registers with the default registerer.
func NewBusinessMetrics(namespace string, reg prometheus.Registerer) *BusinessMetrics {
	if namespace == "" {
		namespace = "kasse"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	subsystem := "business"

	return &BusinessMetrics{
		// =======================================================================
		// Checkout
		// =======================================================================
		CheckoutCompleted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_completed_total",
				Help:      "Checkouts that persisted an order",
			},
			[]string{"tenant_id", "provider"},
		),
		CheckoutFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_failed_total",
				Help:      "Checkouts rejected before or after order creation, by error code",
			},
			[]string{"tenant_id", "code"},
		),
		OrderValue: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "order_value",
				Help:      "Order grand total distribution in major currency units",
				Buckets:   []float64{10, 25, 50, 75, 100, 150, 250, 500, 1000},
			},
			[]string{"tenant_id", "currency"},
		),
		CouponRedemptions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "coupon_redemptions_total",
				Help:      "Coupon redemptions committed at capture",
			},
			[]string{"tenant_id"},
		),

		// =======================================================================
		// Payments
		// =======================================================================
		PaymentIntents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payment_intents_total",
				Help:      "Payment intents requested from providers",
			},
			[]string{"tenant_id", "provider", "outcome"}, // outcome: created, failed
		),
		GatewayLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "gateway_request_duration_seconds",
				Help:      "Payment provider call latency",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"provider", "operation", "outcome"},
		),
		BreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "gateway_breaker_state",
				Help:      "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
			},
			[]string{"provider"},
		),

		// =======================================================================
		// Webhooks
		// =======================================================================
		WebhookReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Provider callbacks received",
			},
			[]string{"tenant_id", "provider"},
		),
		WebhookOutcome: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_outcome_total",
				Help:      "Provider callbacks by reconciliation outcome",
			},
			[]string{"tenant_id", "provider", "outcome"}, // applied, duplicate, stale, ignored, unauthorized, invalid, not_found, error
		),
		StrayCaptures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stray_captures_total",
				Help:      "Captures against orders that were no longer awaiting payment",
			},
			[]string{"tenant_id", "provider"},
		),
		WebhookLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_duration_seconds",
				Help:      "Time to verify and reconcile a provider callback",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),

		// =======================================================================
		// Refunds
		// =======================================================================
		RefundDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "refund_decisions_total",
				Help:      "Refund requests by state reached",
			},
			[]string{"tenant_id", "status"},
		),
		RefundAmount: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "refund_amount_total",
				Help:      "Refunded money in major currency units",
			},
			[]string{"tenant_id", "currency"},
		),

		// =======================================================================
		// Inventory
		// =======================================================================
		StockOversold: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stock_oversold_total",
				Help:      "Captures that drove on-hand stock below zero",
			},
			[]string{"tenant_id"},
		),

		// =======================================================================
		// Notifications
		// =======================================================================
		NotificationsEnqueued: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "notifications_enqueued_total",
				Help:      "Notifications handed to the queue",
			},
			[]string{"kind", "outcome"},
		),
		NotificationsSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "notifications_sent_total",
				Help:      "Notification emails delivered by the notifier",
			},
			[]string{"kind", "outcome"},
		),
	}
}

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}

// CheckoutDone records a completed checkout.
func (m *BusinessMetrics) CheckoutDone(tenantID, provider, currency string, grandTotal float64) {
	if m == nil {
		return
	}
	m.CheckoutCompleted.WithLabelValues(tenantID, provider).Inc()
	m.OrderValue.WithLabelValues(tenantID, currency).Observe(grandTotal)
}

// CheckoutRejected records a failed checkout by error code.
func (m *BusinessMetrics) CheckoutRejected(tenantID, code string) {
	if m == nil {
		return
	}
	m.CheckoutFailed.WithLabelValues(tenantID, code).Inc()
}

// IntentRequested records a Pay call result.
func (m *BusinessMetrics) IntentRequested(tenantID, provider string, err error) {
	if m == nil {
		return
	}
	result := "created"
	if err != nil {
		result = "failed"
	}
	m.PaymentIntents.WithLabelValues(tenantID, provider, result).Inc()
}

// GatewayCall records the latency of one provider call.
func (m *BusinessMetrics) GatewayCall(provider, operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.GatewayLatency.WithLabelValues(provider, operation, outcome(err)).Observe(time.Since(started).Seconds())
}

// Breaker records a circuit breaker state change.
func (m *BusinessMetrics) Breaker(provider string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(provider).Set(float64(state))
}

// Webhook records a reconciled callback.
func (m *BusinessMetrics) Webhook(tenantID, provider, result string, started time.Time) {
	if m == nil {
		return
	}
	m.WebhookReceived.WithLabelValues(tenantID, provider).Inc()
	m.WebhookOutcome.WithLabelValues(tenantID, provider, result).Inc()
	m.WebhookLatency.WithLabelValues(provider).Observe(time.Since(started).Seconds())
}

// StrayCapture records money taken for an order that was already settled or
// closed. Each one needs an operator refund.
func (m *BusinessMetrics) StrayCapture(tenantID, provider string) {
	if m == nil {
		return
	}
	m.StrayCaptures.WithLabelValues(tenantID, provider).Inc()
}

// Oversold records a stock commit that went negative.
func (m *BusinessMetrics) Oversold(tenantID string) {
	if m == nil {
		return
	}
	m.StockOversold.WithLabelValues(tenantID).Inc()
}

// CouponRedeemed records a coupon redemption at capture.
func (m *BusinessMetrics) CouponRedeemed(tenantID string) {
	if m == nil {
		return
	}
	m.CouponRedemptions.WithLabelValues(tenantID).Inc()
}

// RefundDecided records a refund request reaching status.
func (m *BusinessMetrics) RefundDecided(tenantID, status string) {
	if m == nil {
		return
	}
	m.RefundDecisions.WithLabelValues(tenantID, status).Inc()
}

// Refunded records money returned to a customer.
func (m *BusinessMetrics) Refunded(tenantID, currency string, amount float64) {
	if m == nil {
		return
	}
	m.RefundAmount.WithLabelValues(tenantID, currency).Add(amount)
}

// Enqueued records a notification handoff.
func (m *BusinessMetrics) Enqueued(kind string, err error) {
	if m == nil {
		return
	}
	m.NotificationsEnqueued.WithLabelValues(kind, outcome(err)).Inc()
}

// Sent records a notification delivery attempt.
func (m *BusinessMetrics) Sent(kind string, err error) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(kind, outcome(err)).Inc()
}
