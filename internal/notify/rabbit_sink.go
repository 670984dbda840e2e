package notify

import (
	"context"
	"fmt"

	"bazaar/internal/market"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends a payload to an exchange under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// RabbitSink publishes order events to a RabbitMQ exchange. The routing key
// is the event type.
type RabbitSink struct {
	publisher Publisher
}

func NewRabbitSink(publisher Publisher) *RabbitSink {
	return &RabbitSink{publisher: publisher}
}

func (r *RabbitSink) Notify(ctx context.Context, recipientID string, event market.Event) error {
	payload, err := encode(recipientID, event)
	if err != nil {
		return err
	}
	return r.publisher.Publish(ctx, event.Type, payload)
}

func (r *RabbitSink) Close() error {
	return r.publisher.Close()
}

// RabbitPublisher publishes to a durable fanout exchange.
type RabbitPublisher struct {
	conn     *amqp.Connection
	exchange string
}

// DialRabbit connects to the broker and declares the exchange.
func DialRabbit(url, exchange string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &RabbitPublisher{conn: conn, exchange: exchange}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	return ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
}

func (p *RabbitPublisher) Close() error {
	return p.conn.Close()
}
