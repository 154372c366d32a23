package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/noah-isme/toko-checkout/internal/payment"
)

// EventOrderPaid is the event type attached to every published message.
const EventOrderPaid = "order.paid"

// OrderPaid is the message handed to order fulfilment once a payment is confirmed.
type OrderPaid struct {
	MessageID       string             `json:"messageId"`
	PaymentIntentID string             `json:"paymentIntentId"`
	AmountMinor     int64              `json:"amount"`
	Currency        string             `json:"currency"`
	Items           []payment.LineItem `json:"items"`
	PaidAt          time.Time          `json:"paidAt"`
}

// Publisher delivers OrderPaid messages downstream.
type Publisher interface {
	Publish(ctx context.Context, msg OrderPaid) error
}

// messageID is stable per intent so consumers can drop redeliveries.
func messageID(intentID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("stripe:payment_intent:"+intentID)).String()
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes OrderPaid messages keyed by payment intent id.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher builds a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("reconcile: kafka brokers are required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("reconcile: kafka topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w}, nil
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, msg OrderPaid) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("reconcile: encode message: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.PaymentIntentID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventOrderPaid)},
			{Key: "message_id", Value: []byte(msg.MessageID)},
		},
	})
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher records messages in the log when no broker is configured.
type LogPublisher struct {
	Logger zerolog.Logger
}

// Publish implements Publisher.
func (p LogPublisher) Publish(_ context.Context, msg OrderPaid) error {
	p.Logger.Info().
		Str("message_id", msg.MessageID).
		Str("intent_id", msg.PaymentIntentID).
		Int64("amount_minor", msg.AmountMinor).
		Str("currency", msg.Currency).
		Int("lines", len(msg.Items)).
		Msg(EventOrderPaid)
	return nil
}
