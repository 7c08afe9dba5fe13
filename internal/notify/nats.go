package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix prefixes every NATS subject: "kasse.notify.order.paid".
const DefaultSubjectPrefix = "kasse.notify"

type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSQueue publishes notifications on "<prefix>.<kind>".
type NATSQueue struct {
	conn   natsPublisher
	prefix string
}

// NewNATSQueue publishes through conn.
func NewNATSQueue(conn *nats.Conn, prefix string) *NATSQueue {
	return newNATSQueue(conn, prefix)
}

func newNATSQueue(conn natsPublisher, prefix string) *NATSQueue {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSQueue{conn: conn, prefix: prefix}
}

// Subject returns the subject notifications of kind are published on.
func (q *NATSQueue) Subject(kind string) string {
	return q.prefix + "." + kind
}

// Enqueue implements Queue.
func (q *NATSQueue) Enqueue(_ context.Context, n Notification) error {
	data, err := Encode(n)
	if err != nil {
		return err
	}
	if err := q.conn.Publish(q.Subject(n.Kind), data); err != nil {
		return fmt.Errorf("nats publish %s: %w", n.Kind, err)
	}
	return nil
}

// Handler processes one delivered notification.
type Handler func(ctx context.Context, n Notification) error

// Subscribe joins queue group on every notification subject under prefix so
// that each message reaches one worker. Malformed messages are logged and
// dropped.
func Subscribe(ctx context.Context, conn *nats.Conn, prefix, group string, logger *slog.Logger, h Handler) (*nats.Subscription, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	sub, err := conn.QueueSubscribe(prefix+".>", group, func(msg *nats.Msg) {
		deliver(ctx, msg.Subject, msg.Data, logger, h)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", prefix, err)
	}
	return sub, nil
}

func deliver(ctx context.Context, subject string, data []byte, logger *slog.Logger, h Handler) {
	n, err := Decode(data)
	if err != nil {
		logger.Warn("dropping malformed notification", "subject", subject, "error", err)
		return
	}
	if err := h(ctx, n); err != nil {
		logger.Error("notification handler failed", "subject", subject, "kind", n.Kind, "id", n.ID, "error", err)
	}
}
