// Package kafka publishes paid-order events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/oolio-kart-checkout/internal/domain/order"
)

// DefaultTopic is the topic paid-order events are written to.
const DefaultTopic = "order-events"

const eventTypePaid = "order.paid"

var _ order.Publisher = (*Publisher)(nil)

// Writer is the part of kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config selects the brokers and topic.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// Publisher writes one message per paid order, keyed by order id so that all
// events of an order land on the same partition.
type Publisher struct {
	w       Writer
	timeout time.Duration
}

// NewPublisher creates a Publisher backed by a kafka.Writer.
func NewPublisher(cfg Config) *Publisher {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return NewPublisherWithWriter(newWriter(cfg), cfg.WriteTimeout)
}

// newWriter builds a writer that flushes each message right away: PublishPaid
// blocks the request that recorded the payment.
func newWriter(cfg Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// NewPublisherWithWriter wraps an existing writer.
func NewPublisherWithWriter(w Writer, timeout time.Duration) *Publisher {
	return &Publisher{w: w, timeout: timeout}
}

type paidMessage struct {
	Type string `json:"type"`
	order.PaidEvent
}

// PublishPaid writes the event and waits for the brokers to acknowledge it.
func (p *Publisher) PublishPaid(ctx context.Context, e order.PaidEvent) error {
	data, err := json.Marshal(paidMessage{Type: eventTypePaid, PaidEvent: e})
	if err != nil {
		return fmt.Errorf("marshaling paid event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.OrderID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventTypePaid)},
		},
	})
	if err != nil {
		return fmt.Errorf("publishing paid event for order %q: %w", e.OrderID, err)
	}

	zctx.From(ctx).Debug("Paid event published", zap.String("order_id", e.OrderID))
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}
