// Package notify carries customer notifications out of the checkout core.
// Delivery is fire-and-forget: a failed enqueue is logged and counted but
// never fails the operation that produced it.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/kasse/internal/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Notification kinds.
const (
	KindOrderPaid       = "order.paid"
	KindPaymentFailed   = "payment.failed"
	KindRefundProcessed = "refund.processed"
)

// Notification is one message for the notifier worker.
type Notification struct {
	ID          uuid.UUID       `json:"id"`
	Kind        string          `json:"kind"`
	TenantID    uuid.UUID       `json:"tenant_id"`
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Email       string          `json:"email,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Provider    string          `json:"provider,omitempty"`
	Reference   string          `json:"reference,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Queue hands notifications to a transport.
type Queue interface {
	Enqueue(ctx context.Context, n Notification) error
}

// QueueFunc adapts a function to Queue.
type QueueFunc func(ctx context.Context, n Notification) error

func (f QueueFunc) Enqueue(ctx context.Context, n Notification) error { return f(ctx, n) }

// Fanout enqueues on every queue and joins their errors.
type Fanout []Queue

func (f Fanout) Enqueue(ctx context.Context, n Notification) error {
	var errs []error
	for _, q := range f {
		if err := q.Enqueue(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Encode serialises n for the wire.
func Encode(n Notification) ([]byte, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	return b, nil
}

// Decode parses a wire message.
func Decode(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	if n.Kind == "" {
		return Notification{}, errors.New("decode notification: missing kind")
	}
	return n, nil
}

// Notifier stamps and enqueues notifications without surfacing failures.
type Notifier struct {
	queue   Queue
	logger  *slog.Logger
	metrics *telemetry.BusinessMetrics
	now     func() time.Time
}

// NewNotifier wraps queue. A nil queue drops every notification.
func NewNotifier(queue Queue, logger *slog.Logger, metrics *telemetry.BusinessMetrics) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{queue: queue, logger: logger, metrics: metrics, now: time.Now}
}

// Notify enqueues n, filling ID and OccurredAt when unset.
func (n *Notifier) Notify(ctx context.Context, msg Notification) {
	if n == nil || n.queue == nil {
		return
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = n.now().UTC()
	}
	err := n.queue.Enqueue(ctx, msg)
	n.metrics.Enqueued(msg.Kind, err)
	if err != nil {
		n.logger.Error("notification not enqueued",
			"kind", msg.Kind, "tenant_id", msg.TenantID, "order_id", msg.OrderID, "error", err)
	}
}
