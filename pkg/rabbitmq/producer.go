// Package rabbitmq publishes ledger outcome events to a RabbitMQ topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const DefaultExchange = "payment_events"

// Routing keys for transaction outcome events.
const (
	RoutingKeyTransactionApproved = "transaction.approved"
	RoutingKeyTransactionDeclined = "transaction.declined"
	RoutingKeyTransactionRefunded = "transaction.refunded"
)

// TransactionEvent is the payload consumers receive for every settlement outcome.
type TransactionEvent struct {
	TransactionID  uuid.UUID  `json:"transaction_id"`
	Token          string     `json:"token"`
	Kind           string     `json:"kind"`
	Status         string     `json:"status"`
	PayerID        uuid.UUID  `json:"payer_id"`
	RecipientID    *uuid.UUID `json:"recipient_id,omitempty"`
	Amount         string     `json:"amount"`
	Currency       string     `json:"currency"`
	PlatformFee    string     `json:"platform_fee"`
	NetAmount      string     `json:"net_amount"`
	SubscriptionID *uuid.UUID `json:"subscription_id,omitempty"`
	PurchasableID  *uuid.UUID `json:"purchasable_id,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// Publisher is implemented by the live producer and the fallback.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
	PublishTransactionEvent(ctx context.Context, routingKey string, event TransactionEvent) error
	Close()
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func NewEventProducer(amqpURL, exchange string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch, exchange: exchange}, nil
}

// Publish sends body as JSON. A failed publish reopens the channel once and retries.
func (p *EventProducer) Publish(ctx context.Context, routingKey string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}

	logrus.WithError(err).WithFields(logrus.Fields{
		"exchange":    p.exchange,
		"routing_key": routingKey,
	}).Warn("Publish failed; reopening channel")

	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return chErr
	}
	p.channel = ch
	if err := p.channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
}

func (p *EventProducer) PublishTransactionEvent(ctx context.Context, routingKey string, event TransactionEvent) error {
	return p.Publish(ctx, routingKey, event)
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// EventProducerFallback logs and drops events when RabbitMQ is not configured.
type EventProducerFallback struct{}

func (EventProducerFallback) Publish(ctx context.Context, routingKey string, body interface{}) error {
	logrus.WithField("routing_key", routingKey).Debug("RabbitMQ not configured; event dropped")
	return nil
}

func (f EventProducerFallback) PublishTransactionEvent(ctx context.Context, routingKey string, event TransactionEvent) error {
	return f.Publish(ctx, routingKey, event)
}

func (EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// Drop stray characters before the scheme.
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
