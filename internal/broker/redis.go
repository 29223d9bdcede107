package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis broadcasts messages over a pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

// NewRedis connects to the server at cfg.RedisAddr.
func NewRedis(ctx context.Context, cfg Config, log *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     10,
		MinIdleConns: 2,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	log.Info("redis broker connected", zap.String("addr", cfg.RedisAddr), zap.String("channel", cfg.Channel))
	return &Redis{client: client, channel: cfg.Channel, log: log}, nil
}

func (b *Redis) Name() string { return "redis" }

func (b *Redis) Publish(ctx context.Context, m Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.channel, err)
	}
	return nil
}

func (b *Redis) Subscribe(ctx context.Context, h Handler) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// wait for the subscription to be confirmed before reporting readiness
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			deliver(ctx, b.log, h, []byte(msg.Payload))
		}
	}
}

func (b *Redis) Close() error {
	return b.client.Close()
}
