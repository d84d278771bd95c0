package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/topic-registry-api/pkg/config"
)

// DialRedis connects to the pub/sub server and checks it answers before ctx expires.
func DialRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: 5 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return client, nil
}

// RedisFeed fans changes out through Redis pub/sub so every API replica sees them.
type RedisFeed struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisFeed constructs a Redis-backed feed.
func NewRedisFeed(client *redis.Client, prefix string, logger *zap.Logger) *RedisFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisFeed{client: client, prefix: prefix, logger: logger}
}

// PingContext reports whether the pub/sub server is reachable.
func (f *RedisFeed) PingContext(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

// Publish sends the change to the table channel and each key channel.
func (f *RedisFeed) Publish(ctx context.Context, change Change) error {
	change = normalise(change)
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	for _, channel := range channelsFor(f.prefix, change) {
		if err := f.client.Publish(ctx, channel, payload).Err(); err != nil {
			return fmt.Errorf("redis publish %s: %w", channel, err)
		}
	}
	return nil
}

// Subscribe listens on the filtered channel until unsubscribed or ctx ends.
func (f *RedisFeed) Subscribe(ctx context.Context, table string, filter Filter, onChange Handler) (func(), error) {
	channel := channelName(f.prefix, table, filter)
	pubsub := f.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	done := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}

	go func() {
		defer unsubscribe()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					f.logger.Warn("dropping malformed change", zap.String("channel", channel), zap.Error(err))
					continue
				}
				onChange(change)
			}
		}
	}()

	return unsubscribe, nil
}
