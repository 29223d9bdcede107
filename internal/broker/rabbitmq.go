package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQ broadcasts messages through a fanout exchange. Each subscriber
// binds its own exclusive queue, so every process sees every message.
type RabbitMQ struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
	log      *zap.Logger
}

// NewRabbitMQ dials cfg.RabbitURL and declares the exchange.
func NewRabbitMQ(ctx context.Context, cfg Config, log *zap.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		cfg.Channel, // name
		"fanout",    // kind
		true,        // durable
		false,       // auto-delete
		false,       // internal
		false,       // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Channel, err)
	}

	log.Info("rabbitmq broker connected", zap.String("exchange", cfg.Channel))
	return &RabbitMQ{conn: conn, channel: ch, exchange: cfg.Channel, log: log}, nil
}

func (b *RabbitMQ) Name() string { return "rabbitmq" }

func (b *RabbitMQ) Publish(ctx context.Context, m Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	err = b.channel.PublishWithContext(ctx,
		b.exchange, // exchange
		"",         // routing key, ignored by fanout
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        data,
			Timestamp:   time.UnixMilli(m.SentAt),
			AppId:       m.Origin,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (b *RabbitMQ) Subscribe(ctx context.Context, h Handler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue to %s: %w", b.exchange, err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", q.Name, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			deliver(ctx, b.log, h, d.Body)
		}
	}
}

func (b *RabbitMQ) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.channel.Close(); err != nil && err != amqp.ErrClosed {
		return fmt.Errorf("failed to close channel: %w", err)
	}
	if err := b.conn.Close(); err != nil && err != amqp.ErrClosed {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}
