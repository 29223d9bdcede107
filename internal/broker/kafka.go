package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Kafka broadcasts messages on a topic. Each process reads with its own
// consumer group so the topic behaves like a fanout.
type Kafka struct {
	brokers []string
	topic   string
	group   string
	writer  *kafka.Writer
	log     *zap.Logger
}

// NewKafka creates the writer and checks that the topic is reachable.
func NewKafka(ctx context.Context, cfg Config, log *zap.Logger) (*Kafka, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required for Kafka")
	}
	origin := cfg.Origin
	if origin == "" {
		origin = uuid.NewString()
	}

	k := &Kafka{
		brokers: cfg.KafkaBrokers,
		topic:   cfg.Channel,
		group:   cfg.Channel + "-" + origin,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.KafkaBrokers...),
			Topic:        cfg.Channel,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
			WriteTimeout: 10 * time.Second,
		},
		log: log,
	}
	if err := k.ping(ctx); err != nil {
		k.writer.Close()
		return nil, err
	}

	log.Info("kafka broker connected", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", k.topic), zap.String("group", k.group))
	return k, nil
}

func (k *Kafka) ping(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", k.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial Kafka broker: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ReadPartitions(k.topic); err != nil {
		return fmt.Errorf("failed to read topic partitions: %w", err)
	}
	return nil
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Publish(ctx context.Context, m Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(m.Origin),
		Value: data,
		Time:  time.UnixMilli(m.SentAt),
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "type", Value: []byte(m.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}
	return nil
}

func (k *Kafka) Subscribe(ctx context.Context, h Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        k.brokers,
		GroupID:        k.group,
		Topic:          k.topic,
		MinBytes:       1,
		MaxBytes:       1e6,
		StartOffset:    kafka.LastOffset,
		MaxWait:        time.Second,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
	})
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}
		deliver(ctx, k.log, h, msg.Value)
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			k.log.Warn("failed to commit offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (k *Kafka) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}
