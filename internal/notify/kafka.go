package notify

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaQueue writes notifications to one topic keyed by order id, so every
// notification for an order lands on the same partition.
type KafkaQueue struct {
	writer messageWriter
}

// NewKafkaQueue creates a queue writing to topic on brokers.
func NewKafkaQueue(topic string, brokers ...string) *KafkaQueue {
	return &KafkaQueue{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
	}}
}

// Enqueue implements Queue.
func (q *KafkaQueue) Enqueue(ctx context.Context, n Notification) error {
	data, err := Encode(n)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(n.OrderID.String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(n.Kind)},
			{Key: "tenant_id", Value: []byte(n.TenantID.String())},
		},
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", n.Kind, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (q *KafkaQueue) Close() error {
	return q.writer.Close()
}
