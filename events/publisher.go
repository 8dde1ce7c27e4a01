/*
publisher.go - RabbitMQ producer for ledger domain events

The producer owns one connection and one channel. Exchanges are declared as
durable topic exchanges on every publish, so a broker restart that drops a
non-persisted exchange heals on the next event. A failed publish reopens the
channel once and retries.

When RabbitMQ is unreachable at startup the binary falls back to
FallbackPublisher, which logs and drops every event.
*/
package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends a JSON-encoded body to an exchange.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body any) error
	Close()
}

// =============================================================================
// AMQP PRODUCER
// =============================================================================

// Producer publishes to RabbitMQ.
type Producer struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// NewProducer dials amqpURL with a bounded timeout and opens a channel.
func NewProducer(amqpURL string, logger *slog.Logger) (*Producer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
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

	return &Producer{conn: conn, channel: ch, logger: logger.With("component", "rabbitmq_producer")}, nil
}

// Publish declares exchange and publishes body under routingKey.
func (p *Producer) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		p.logger.Error("json marshal failed", "exchange", exchange, "routing_key", routingKey, "err", err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, exchange, routingKey, payload)
	if err == nil {
		return nil
	}

	p.logger.Warn("publish failed; reopening channel", "exchange", exchange, "routing_key", routingKey, "err", err)
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return errors.Join(err, chErr)
	}
	p.channel.Close()
	p.channel = ch
	return p.publishLocked(ctx, exchange, routingKey, payload)
}

func (p *Producer) publishLocked(ctx context.Context, exchange, routingKey string, payload []byte) error {
	if err := p.channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		return err
	}

	return p.channel.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         payload,
		},
	)
}

// Close closes the channel and connection.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// =============================================================================
// FALLBACK
// =============================================================================

// FallbackPublisher drops events. Used when no broker is configured or
// reachable.
type FallbackPublisher struct {
	Logger *slog.Logger
}

func (p FallbackPublisher) Publish(_ context.Context, exchange, routingKey string, _ any) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("publish skipped", "component", "rabbitmq_producer", "mode", "fallback",
		"exchange", exchange, "routing_key", routingKey)
	return nil
}

func (FallbackPublisher) Close() {}
