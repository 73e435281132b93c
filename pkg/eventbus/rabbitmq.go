// Package eventbus publishes order events to a RabbitMQ topic exchange.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kass/go-mart-connect/pkg/order"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

const (
	DefaultExchange = "mart_orders"

	OrderPlacedQueue = "order_placed_queue"
	OrderStatusQueue = "order_status_queue"

	OrderPlacedRoutingKey = "order.placed"
	OrderStatusRoutingKey = "order.status"
)

// Config holds the connection settings.
type Config struct {
	URL      string
	Exchange string
	// DialAttempts bounds connection retries. Defaults to 5.
	DialAttempts int
}

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements order.Notifier over AMQP. Publishes are serialised
// because an AMQP channel must not be shared by concurrent writers.
type Publisher struct {
	mu       sync.Mutex
	ch       Channel
	conn     *amqp.Connection
	exchange string
}

var _ order.Notifier = (*Publisher)(nil)

// NewPublisher wraps an open channel.
func NewPublisher(ch Channel, exchange string) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Publisher{ch: ch, exchange: exchange}
}

// Dial connects with backoff, declares the exchange and binds the
// notification queues.
func Dial(cfg Config) (*Publisher, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	attempts := cfg.DialAttempts
	if attempts <= 0 {
		attempts = 5
	}

	var conn *amqp.Connection
	var err error
	for i := 0; i < attempts; i++ {
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}
		if i == attempts-1 {
			break
		}
		retryTime := time.Duration(i*i)*time.Second + time.Second
		log.Warn().Err(err).Dur("retryIn", retryTime).Msg("Failed to connect to RabbitMQ, retrying")
		time.Sleep(retryTime)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after retries: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declareTopology(ch, cfg.Exchange); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	p := NewPublisher(ch, cfg.Exchange)
	p.conn = conn
	log.Info().Str("exchange", cfg.Exchange).Msg("Connected to RabbitMQ")
	return p, nil
}

func declareTopology(ch *amqp.Channel, exchange string) error {
	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	bindings := map[string]string{
		OrderPlacedQueue: OrderPlacedRoutingKey,
		OrderStatusQueue: OrderStatusRoutingKey,
	}
	for queue, key := range bindings {
		q, err := ch.QueueDeclare(
			queue, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s to exchange %s: %w", queue, exchange, err)
		}
	}
	return nil
}

// Close closes the channel and, when owned, the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

func (p *Publisher) OrderPlaced(ctx context.Context, ev order.OrderPlacedEvent) error {
	return p.publish(ctx, OrderPlacedRoutingKey, ev.EventID, ev.Timestamp, ev)
}

func (p *Publisher) StatusChanged(ctx context.Context, ev order.StatusChangedEvent) error {
	return p.publish(ctx, OrderStatusRoutingKey, ev.EventID, ev.Timestamp, ev)
}

func (p *Publisher) publish(ctx context.Context, routingKey, messageID string, ts time.Time, message any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    ts,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message to exchange %s with routing key %s: %w", p.exchange, routingKey, err)
	}

	log.Debug().Str("exchange", p.exchange).Str("routingKey", routingKey).Str("messageId", messageID).Msg("Published message")
	return nil
}
