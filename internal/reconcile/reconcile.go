// Package reconcile turns authenticated provider callbacks into ledger rows
// and order state. It is safe against replays, retries and out-of-order
// delivery.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/gateway"
	"github.com/dukerupert/kasse/internal/notify"
	"github.com/dukerupert/kasse/internal/repository"
	"github.com/dukerupert/kasse/internal/telemetry"
	"github.com/google/uuid"
)

// Result labels for webhook metrics.
const (
	ResultApplied      = "applied"
	ResultDuplicate    = "duplicate"
	ResultStale        = "stale"
	ResultIgnored      = "ignored"
	ResultUnauthorized = "unauthorized"
	ResultInvalid      = "invalid"
	ResultNotFound     = "not_found"
	ResultError        = "error"
)

// Verifier authenticates and parses callbacks.
type Verifier interface {
	Verify(ctx context.Context, tenant domain.TenantRef, provider string, payload []byte, headers http.Header) (*gateway.Verification, *gateway.Context, error)
}

// Outcome reports what a callback did. Exactly one of Applied, Duplicate,
// Stale and Ignored is set on success.
type Outcome struct {
	OrderID     uuid.UUID            `json:"order_id"`
	Status      domain.PaymentStatus `json:"payment_status"`
	OrderStatus domain.OrderStatus   `json:"order_status"`
	Applied     bool                 `json:"applied"`
	Duplicate   bool                 `json:"duplicate"`
	Stale       bool                 `json:"stale"`
	Ignored     bool                 `json:"ignored"`
}

// Result returns the metrics label of o.
func (o *Outcome) Result() string {
	switch {
	case o.Duplicate:
		return ResultDuplicate
	case o.Stale:
		return ResultStale
	case o.Ignored:
		return ResultIgnored
	}
	return ResultApplied
}

// Reconciler applies provider callbacks.
type Reconciler struct {
	store    repository.Store
	verifier Verifier
	notifier *notify.Notifier
	logger   *slog.Logger
	metrics  *telemetry.BusinessMetrics
}

// NewReconciler creates a reconciler. notifier and metrics may be nil.
func NewReconciler(store repository.Store, verifier Verifier, notifier *notify.Notifier, logger *slog.Logger, metrics *telemetry.BusinessMetrics) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, verifier: verifier, notifier: notifier, logger: logger, metrics: metrics}
}

// Handle verifies payload and folds it into the order it references.
// Unknown references return NotFound so the provider redelivers.
func (r *Reconciler) Handle(ctx context.Context, tenant domain.TenantRef, provider string, payload []byte, headers http.Header) (*Outcome, error) {
	started := time.Now()
	out, err := r.handle(ctx, tenant, provider, payload, headers)
	result := ResultError
	switch {
	case err == nil:
		result = out.Result()
	case domain.IsCode(err, domain.EUNAUTHORIZED):
		result = ResultUnauthorized
	case domain.IsCode(err, domain.EINVALID):
		result = ResultInvalid
	case domain.IsCode(err, domain.ENOTFOUND):
		result = ResultNotFound
	}
	r.metrics.Webhook(tenant.ID.String(), provider, result, started)
	return out, err
}

func (r *Reconciler) handle(ctx context.Context, tenant domain.TenantRef, provider string, payload []byte, headers http.Header) (*Outcome, error) {
	const op = "reconcile.handle"

	if err := tenant.Validate(); err != nil {
		return nil, domain.WithOp(err, op)
	}
	v, gctx, err := r.verifier.Verify(ctx, tenant, provider, payload, headers)
	if err != nil {
		if domain.IsCode(err, domain.EUNAUTHORIZED) {
			r.logger.Warn("webhook rejected", "tenant_id", tenant.ID, "provider", provider)
		}
		return nil, err
	}
	logger := r.logger.With("tenant_id", tenant.ID, "provider", provider,
		"reference", v.ProviderReference, "status", v.Status, "event_id", v.EventID)
	if v.Ignored() {
		logger.Info("webhook event ignored", "event_type", v.EventType)
		return &Outcome{Ignored: true}, nil
	}

	orderID, err := r.store.FindOrderByProviderReference(ctx, tenant.ID, provider, v.ProviderReference)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn("webhook for unknown payment reference")
		return nil, domain.NotFound(op, "payment reference", v.ProviderReference)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to locate order")
	}

	var (
		out    = &Outcome{OrderID: orderID, Status: v.Status}
		notice *notify.Notification
	)
	err = r.store.InTx(ctx, func(q repository.Querier) error {
		order, err := q.LockOrder(ctx, tenant.ID, orderID)
		if err != nil {
			return err
		}
		out.OrderStatus = order.Status

		key := domain.TransactionKey{Provider: provider, ProviderReference: v.ProviderReference, Status: v.Status}
		if order.HasTransaction(key) {
			out.Duplicate = true
			return nil
		}

		current := order.PaymentStatusFor(provider, v.ProviderReference)
		next, moved := current.Advance(v.Status)
		if !moved {
			out.Stale = true
			out.Status = current
			return nil
		}

		txn := &domain.PaymentTransaction{
			TenantID:          tenant.ID,
			OrderID:           order.ID,
			Provider:          provider,
			ProviderReference: v.ProviderReference,
			Status:            v.Status,
			Amount:            v.Amount,
			Currency:          v.Currency,
			EventType:         v.EventType,
			EventID:           v.EventID,
		}
		if txn.Currency == "" {
			txn.Currency = order.Currency
		}
		if err := q.AppendTransaction(ctx, txn); err != nil {
			if errors.Is(err, repository.ErrDuplicateTransaction) {
				out.Duplicate = true
				return nil
			}
			return err
		}
		out.Applied = true
		out.Status = next

		switch next {
		case domain.PaymentCaptured:
			paid, err := r.capture(ctx, q, order, txn, logger)
			if err != nil {
				return err
			}
			if paid {
				out.OrderStatus = domain.OrderPaid
				notice = r.notice(notify.KindOrderPaid, order, txn)
			}
		case domain.PaymentFailed:
			notice = r.notice(notify.KindPaymentFailed, order, txn)
		case domain.PaymentRefunded:
			status, err := r.refund(ctx, q, order, gctx, v, logger)
			if err != nil {
				return err
			}
			out.OrderStatus = status
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.WithOp(domain.ErrOrderNotFound, op)
		}
		logger.Error("webhook reconciliation failed", "order_id", orderID, "error", err)
		return nil, domain.Internal(err, op, "failed to reconcile payment")
	}

	switch {
	case out.Duplicate:
		logger.Info("duplicate webhook ignored", "order_id", orderID)
	case out.Stale:
		logger.Info("stale webhook ignored", "order_id", orderID, "current", out.Status)
	default:
		logger.Info("payment status applied", "order_id", orderID, "order_status", out.OrderStatus)
	}

	if notice != nil {
		r.notifier.Notify(ctx, *notice)
	}
	return out, nil
}

// capture marks a pending order paid, commits stock and redeems the coupon.
// Stock may go negative; oversell is counted and logged. A capture for an
// order in any other status keeps its ledger row but changes nothing else
// and reports false: the money has to go back by hand.
func (r *Reconciler) capture(ctx context.Context, q repository.Querier, order *domain.Order, txn *domain.PaymentTransaction, logger *slog.Logger) (bool, error) {
	if order.Status != domain.OrderPending {
		r.metrics.StrayCapture(order.TenantID.String(), txn.Provider)
		logger.Error("capture for order not awaiting payment, refund required",
			"order_id", order.ID, "order_status", order.Status, "amount", txn.Amount, "currency", txn.Currency)
		return false, nil
	}
	if err := q.UpdateOrderStatus(ctx, order.TenantID, order.ID, domain.OrderPaid); err != nil {
		return false, err
	}

	for _, it := range order.Items {
		level, err := q.CommitStock(ctx, order.TenantID, it.VariantID, it.Quantity)
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn("no inventory row for captured line", "order_id", order.ID, "sku", it.SKU)
			continue
		}
		if err != nil {
			return false, err
		}
		if level.OnHand < 0 {
			r.metrics.Oversold(order.TenantID.String())
			logger.Warn("stock oversold at capture", "order_id", order.ID, "sku", it.SKU, "on_hand", level.OnHand)
		}
	}

	if order.CouponID != nil {
		if err := q.IncrementCouponRedemption(ctx, order.TenantID, *order.CouponID); err != nil {
			return false, err
		}
		r.metrics.CouponRedeemed(order.TenantID.String())
	}
	return true, nil
}

// refund moves the order to refunded when the provider reports a refund that
// covers the grand total.
func (r *Reconciler) refund(ctx context.Context, q repository.Querier, order *domain.Order, gctx *gateway.Context, v *gateway.Verification, logger *slog.Logger) (domain.OrderStatus, error) {
	if gctx == nil {
		gctx = &gateway.Context{}
	}
	conv := *gctx
	conv.Currency = order.Currency
	if conv.SettlementCurrency == "" {
		conv.SettlementCurrency = order.Currency
	}
	amount, err := conv.OrderAmount(v.Amount, v.Currency)
	if err != nil {
		logger.Warn("refund amount not convertible; order status unchanged", "order_id", order.ID, "error", err)
		return order.Status, nil
	}
	if amount.LessThan(order.GrandTotal) || !order.Status.CanTransition(domain.OrderRefunded) {
		return order.Status, nil
	}
	if err := q.UpdateOrderStatus(ctx, order.TenantID, order.ID, domain.OrderRefunded); err != nil {
		return order.Status, err
	}
	return domain.OrderRefunded, nil
}

func (r *Reconciler) notice(kind string, order *domain.Order, txn *domain.PaymentTransaction) *notify.Notification {
	return &notify.Notification{
		Kind:        kind,
		TenantID:    order.TenantID,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Email:       order.Email,
		Amount:      order.GrandTotal,
		Currency:    order.Currency,
		Provider:    txn.Provider,
		Reference:   txn.ProviderReference,
	}
}

var _ Verifier = (*gateway.Orchestrator)(nil)
