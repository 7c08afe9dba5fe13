// Package refund runs the refund request workflow: submit, approve or deny,
// then return money through the payment gateway that captured the order.
package refund

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/gateway"
	"github.com/dukerupert/kasse/internal/notify"
	"github.com/dukerupert/kasse/internal/repository"
	"github.com/dukerupert/kasse/internal/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Gateway issues provider refunds. *gateway.Orchestrator satisfies it.
type Gateway interface {
	Refund(ctx context.Context, tenant domain.TenantRef, provider string, params gateway.RefundParams) (*gateway.RefundResult, error)
}

// ItemParams selects a quantity of one order line.
type ItemParams struct {
	OrderItemID uuid.UUID
	Quantity    int
}

// SubmitParams is a customer refund request.
type SubmitParams struct {
	OrderID uuid.UUID
	Reason  string
	Items   []ItemParams
}

// Workflow moves refund requests through pending, approved/denied and
// processed.
type Workflow struct {
	store    repository.Store
	gateway  Gateway
	notifier *notify.Notifier
	logger   *slog.Logger
	metrics  *telemetry.BusinessMetrics
	now      func() time.Time
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithClock overrides time.Now for decision and processing timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// WithMetrics records decisions and refunded amounts.
func WithMetrics(m *telemetry.BusinessMetrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

// NewWorkflow creates a refund workflow. notifier may be nil.
func NewWorkflow(store repository.Store, gw Gateway, notifier *notify.Notifier, logger *slog.Logger, opts ...Option) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Workflow{
		store:    store,
		gateway:  gw,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Submit records a pending refund request for lines of a paid, shipped or
// delivered order. The requested amount is the sum of the selected lines.
func (w *Workflow) Submit(ctx context.Context, tenant domain.TenantRef, p SubmitParams) (*domain.RefundRequest, error) {
	const op = "refund.submit"

	if err := tenant.Validate(); err != nil {
		return nil, domain.WithOp(err, op)
	}
	if p.OrderID == uuid.Nil {
		return nil, domain.NewValidationError(op, "order_id", "is required")
	}
	if len(p.Items) == 0 {
		return nil, domain.WithOp(domain.ErrRefundNoItems, op)
	}

	order, err := w.store.GetOrder(ctx, tenant.ID, p.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.WithOp(domain.ErrOrderNotFound, op)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load order")
	}
	if !order.Status.IsRefundable() {
		return nil, domain.WithOp(domain.ErrOrderNotRefundable, op)
	}

	req := &domain.RefundRequest{
		TenantID:        tenant.ID,
		OrderID:         order.ID,
		Reason:          p.Reason,
		Status:          domain.RefundPending,
		Items:           make([]domain.RefundItem, 0, len(p.Items)),
		RequestedAmount: decimal.Zero,
	}
	seen := make(map[uuid.UUID]bool, len(p.Items))
	for _, it := range p.Items {
		line, ok := order.Item(it.OrderItemID)
		if !ok {
			return nil, domain.Errorf(domain.EINVALID, op, "item %s does not belong to order %s", it.OrderItemID, order.OrderNumber)
		}
		if seen[it.OrderItemID] {
			return nil, domain.Errorf(domain.EINVALID, op, "item %s listed more than once", line.SKU)
		}
		seen[it.OrderItemID] = true
		if it.Quantity < 1 || it.Quantity > line.Quantity {
			return nil, domain.Errorf(domain.EINVALID, op, "quantity for %s must be between 1 and %d", line.SKU, line.Quantity)
		}
		amount := domain.LineAmount(line.UnitPrice, it.Quantity)
		req.Items = append(req.Items, domain.RefundItem{OrderItemID: line.ID, Quantity: it.Quantity, Amount: amount})
		req.RequestedAmount = req.RequestedAmount.Add(amount)
	}

	if err := w.store.CreateRefundRequest(ctx, req); err != nil {
		return nil, domain.Internal(err, op, "failed to save refund request")
	}
	w.logger.Info("refund requested",
		"tenant_id", tenant.ID, "order_id", order.ID, "refund_id", req.ID, "amount", req.RequestedAmount)
	return req, nil
}

// approval is what Approve needs from the locked transaction to call the
// gateway after commit.
type approval struct {
	req      *domain.RefundRequest
	order    *domain.Order
	captured domain.PaymentTransaction
	retry    bool
}

// Approve accepts a pending request for amount and refunds it through the
// provider that captured the order. Calling it again on an approved request
// retries the provider call with the stored amount.
//
// The approval is committed before the provider is called. A provider failure
// leaves the request approved and returns a GatewayFailure together with it.
func (w *Workflow) Approve(ctx context.Context, tenant domain.TenantRef, requestID uuid.UUID, amount decimal.Decimal, note string) (*domain.RefundRequest, error) {
	const op = "refund.approve"

	if err := tenant.Validate(); err != nil {
		return nil, domain.WithOp(err, op)
	}
	amount = domain.RoundMoney(amount)

	var a approval
	err := w.store.InTx(ctx, func(q repository.Querier) error {
		req, order, err := lockRequest(ctx, q, tenant.ID, requestID)
		if err != nil {
			return err
		}
		switch req.Status {
		case domain.RefundPending:
		case domain.RefundApproved:
			a.retry = true
		default:
			return domain.ErrRefundAlreadyDecided
		}

		captured, ok := order.CapturedTransaction()
		if !ok {
			return domain.ErrNoCapturedPayment
		}
		a.req, a.order, a.captured = req, order, captured
		if a.retry {
			return nil
		}

		if !amount.IsPositive() {
			return domain.ErrRefundAmount
		}
		if !order.Status.IsRefundable() {
			return domain.ErrOrderNotRefundable
		}
		if amount.GreaterThan(req.RequestedAmount) {
			return domain.ErrRefundExceedsRequest
		}
		committed, err := committedElsewhere(ctx, q, tenant.ID, order.ID, req.ID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(order.GrandTotal.Sub(committed)) {
			return domain.ErrRefundExceedsBalance
		}

		now := w.now()
		req.Status = domain.RefundApproved
		req.ApprovedAmount = &amount
		req.DecisionNote = note
		req.DecidedAt = &now
		return q.UpdateRefundRequest(ctx, req)
	})
	if err != nil {
		return nil, txError(err, op, "failed to approve refund")
	}
	if !a.retry {
		w.metrics.RefundDecided(tenant.ID.String(), string(domain.RefundApproved))
	}

	logger := w.logger.With("tenant_id", tenant.ID, "order_id", a.order.ID, "refund_id", a.req.ID,
		"provider", a.captured.Provider)

	approved := *a.req.ApprovedAmount
	result, err := w.gateway.Refund(ctx, tenant, a.captured.Provider, gateway.RefundParams{
		RefundID:          a.req.ID,
		ProviderReference: a.captured.ProviderReference,
		Amount:            approved,
		Currency:          a.order.Currency,
		Reason:            a.req.Reason,
	})
	if err != nil {
		logger.Warn("provider refund failed; request stays approved", "error", err)
		if domain.IsCode(err, domain.EGATEWAY) {
			return a.req, domain.WithOp(err, op)
		}
		return a.req, domain.GatewayFailure(err, op, "payment provider could not process the refund")
	}

	processed, notice, err := w.process(ctx, tenant, a, result)
	if err != nil {
		logger.Error("refund issued by provider but not recorded", "reference", result.ProviderReference, "error", err)
		return a.req, txError(err, op, "failed to record refund")
	}
	logger.Info("refund processed", "reference", result.ProviderReference, "amount", approved,
		"order_status", notice.orderStatus)

	if notice.send {
		w.metrics.Refunded(tenant.ID.String(), a.order.Currency, approved.InexactFloat64())
		w.notifier.Notify(ctx, notify.Notification{
			Kind:        notify.KindRefundProcessed,
			TenantID:    tenant.ID,
			OrderID:     a.order.ID,
			OrderNumber: a.order.OrderNumber,
			Email:       a.order.Email,
			Amount:      approved,
			Currency:    a.order.Currency,
			Provider:    a.captured.Provider,
			Reference:   result.ProviderReference,
		})
	}
	return processed, nil
}

type processNotice struct {
	send        bool
	orderStatus domain.OrderStatus
}

// process records a provider refund: a refunded ledger row under the refund
// reference, the processed request, and the order status once the processed
// total covers the grand total.
func (w *Workflow) process(ctx context.Context, tenant domain.TenantRef, a approval, result *gateway.RefundResult) (*domain.RefundRequest, processNotice, error) {
	var (
		out    *domain.RefundRequest
		notice processNotice
	)
	err := w.store.InTx(ctx, func(q repository.Querier) error {
		order, err := q.LockOrder(ctx, tenant.ID, a.order.ID)
		if err != nil {
			return err
		}
		notice.orderStatus = order.Status
		req, err := q.GetRefundRequest(ctx, tenant.ID, a.req.ID)
		if err != nil {
			return err
		}
		out = req
		if req.Status == domain.RefundProcessed {
			return nil
		}

		reference := result.ProviderReference
		if reference == "" {
			reference = a.captured.ProviderReference
		}
		txn := &domain.PaymentTransaction{
			TenantID:          tenant.ID,
			OrderID:           order.ID,
			Provider:          a.captured.Provider,
			ProviderReference: reference,
			Status:            domain.PaymentRefunded,
			Amount:            *req.ApprovedAmount,
			Currency:          order.Currency,
			EventType:         "refund.processed",
			EventID:           req.ID.String(),
		}
		if err := q.AppendTransaction(ctx, txn); err != nil && !errors.Is(err, repository.ErrDuplicateTransaction) {
			return err
		}

		now := w.now()
		req.Status = domain.RefundProcessed
		req.ProviderReference = reference
		req.ProcessedAt = &now
		if err := q.UpdateRefundRequest(ctx, req); err != nil {
			return err
		}
		notice.send = true

		refunded, err := processedTotal(ctx, q, tenant.ID, order.ID)
		if err != nil {
			return err
		}
		if refunded.GreaterThanOrEqual(order.GrandTotal) && order.Status.CanTransition(domain.OrderRefunded) {
			if err := q.UpdateOrderStatus(ctx, tenant.ID, order.ID, domain.OrderRefunded); err != nil {
				return err
			}
			notice.orderStatus = domain.OrderRefunded
		}
		return nil
	})
	return out, notice, err
}

// Deny rejects a pending request. The provider is not contacted.
func (w *Workflow) Deny(ctx context.Context, tenant domain.TenantRef, requestID uuid.UUID, note string) (*domain.RefundRequest, error) {
	const op = "refund.deny"

	if err := tenant.Validate(); err != nil {
		return nil, domain.WithOp(err, op)
	}

	var out *domain.RefundRequest
	err := w.store.InTx(ctx, func(q repository.Querier) error {
		req, _, err := lockRequest(ctx, q, tenant.ID, requestID)
		if err != nil {
			return err
		}
		if req.Status != domain.RefundPending {
			return domain.ErrRefundNotPending
		}
		now := w.now()
		req.Status = domain.RefundDenied
		req.DecisionNote = note
		req.DecidedAt = &now
		out = req
		return q.UpdateRefundRequest(ctx, req)
	})
	if err != nil {
		return nil, txError(err, op, "failed to deny refund")
	}
	w.metrics.RefundDecided(tenant.ID.String(), string(domain.RefundDenied))
	w.logger.Info("refund denied", "tenant_id", tenant.ID, "order_id", out.OrderID, "refund_id", out.ID)
	return out, nil
}

// lockRequest locks the order a refund request belongs to, then reads the
// request again. The order row is the lock for every decision on its
// requests, so a status read before the lock may already be stale.
func lockRequest(ctx context.Context, q repository.Querier, tenantID, requestID uuid.UUID) (*domain.RefundRequest, *domain.Order, error) {
	peek, err := q.GetRefundRequest(ctx, tenantID, requestID)
	if err != nil {
		return nil, nil, notFound(err, domain.ErrRefundNotFound)
	}
	order, err := q.LockOrder(ctx, tenantID, peek.OrderID)
	if err != nil {
		return nil, nil, notFound(err, domain.ErrOrderNotFound)
	}
	req, err := q.GetRefundRequest(ctx, tenantID, requestID)
	if err != nil {
		return nil, nil, notFound(err, domain.ErrRefundNotFound)
	}
	return req, order, nil
}

// Get returns one refund request.
func (w *Workflow) Get(ctx context.Context, tenant domain.TenantRef, requestID uuid.UUID) (*domain.RefundRequest, error) {
	const op = "refund.get"

	if err := tenant.Validate(); err != nil {
		return nil, domain.WithOp(err, op)
	}
	req, err := w.store.GetRefundRequest(ctx, tenant.ID, requestID)
	if err != nil {
		return nil, txError(notFound(err, domain.ErrRefundNotFound), op, "failed to load refund request")
	}
	return req, nil
}

// ListForOrder returns an order's refund requests, oldest first.
func (w *Workflow) ListForOrder(ctx context.Context, tenant domain.TenantRef, orderID uuid.UUID) ([]domain.RefundRequest, error) {
	const op = "refund.list"

	if err := tenant.Validate(); err != nil {
		return nil, domain.WithOp(err, op)
	}
	if _, err := w.store.GetOrder(ctx, tenant.ID, orderID); err != nil {
		return nil, txError(notFound(err, domain.ErrOrderNotFound), op, "failed to load order")
	}
	reqs, err := w.store.ListRefundRequests(ctx, tenant.ID, orderID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list refund requests")
	}
	return reqs, nil
}

// committedElsewhere sums the approved and processed amounts of an order's
// other refund requests.
func committedElsewhere(ctx context.Context, q repository.Querier, tenantID, orderID, exclude uuid.UUID) (decimal.Decimal, error) {
	reqs, err := q.ListRefundRequests(ctx, tenantID, orderID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range reqs {
		if r.ID != exclude {
			total = total.Add(r.Committed())
		}
	}
	return total, nil
}

func processedTotal(ctx context.Context, q repository.Querier, tenantID, orderID uuid.UUID) (decimal.Decimal, error) {
	reqs, err := q.ListRefundRequests(ctx, tenantID, orderID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range reqs {
		if r.Status == domain.RefundProcessed {
			total = total.Add(r.Committed())
		}
	}
	return total, nil
}

// notFound maps a repository miss onto sentinel.
func notFound(err, sentinel error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return sentinel
	}
	return err
}

// txError passes domain errors through with op and hides everything else.
func txError(err error, op, message string) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return domain.WithOp(err, op)
	}
	return domain.Internal(err, op, message)
}

var _ Gateway = (*gateway.Orchestrator)(nil)
