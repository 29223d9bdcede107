package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"marketstore/internal/config"

	"go.uber.org/zap"
)

// ErrClosed is returned when using a broker after Close.
var ErrClosed = errors.New("broker closed")

// Handler processes one delivered message.
type Handler func(ctx context.Context, m Message) error

// Broker fans messages out to every subscribed process. Delivery guarantees
// are those of the underlying transport.
type Broker interface {
	Publish(ctx context.Context, m Message) error
	// Subscribe delivers messages to h until ctx is done or the broker is
	// closed. Handler errors are logged and do not stop delivery.
	Subscribe(ctx context.Context, h Handler) error
	Name() string
	Close() error
}

// Config selects and configures a transport.
type Config struct {
	Type    string // redis, rabbitmq, kafka, memory
	Channel string
	// Origin distinguishes this process, e.g. in its kafka consumer group.
	Origin string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RabbitURL string

	KafkaBrokers []string
}

// ConfigFrom maps the broker section of the application config.
func ConfigFrom(cfg config.BrokerConfig, origin string) Config {
	return Config{
		Type:          cfg.Type,
		Channel:       cfg.Channel,
		Origin:        origin,
		RedisAddr:     cfg.RedisAddress(),
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		RabbitURL:     cfg.RabbitURL,
		KafkaBrokers:  cfg.KafkaBrokers,
	}
}

// New connects the transport named by cfg.Type.
func New(ctx context.Context, cfg Config, log *zap.Logger) (Broker, error) {
	if cfg.Channel == "" {
		cfg.Channel = "marketplace"
	}
	log = log.Named("broker")
	switch strings.ToLower(cfg.Type) {
	case "redis":
		return NewRedis(ctx, cfg, log)
	case "rabbitmq", "rabbit", "amqp":
		return NewRabbitMQ(ctx, cfg, log)
	case "kafka":
		return NewKafka(ctx, cfg, log)
	case "memory":
		return NewMemory(log), nil
	default:
		return nil, fmt.Errorf("unsupported broker type: %s (supported: redis, rabbitmq, kafka, memory)", cfg.Type)
	}
}

// deliver decodes data and hands it to h, logging anything that goes wrong.
func deliver(ctx context.Context, log *zap.Logger, h Handler, data []byte) {
	m, err := Decode(data)
	if err != nil {
		log.Warn("dropping undecodable message", zap.Error(err))
		return
	}
	if err := h(ctx, m); err != nil {
		log.Error("message handler failed", zap.String("type", string(m.Type)), zap.Error(err))
	}
}
