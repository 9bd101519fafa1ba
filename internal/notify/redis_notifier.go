package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisChangeChannel = "suitesync:changes"

// RedisNotifier implements Publisher and Subscriber over Redis pub/sub.
type RedisNotifier struct {
	client *redis.Client
	sub    *redis.PubSub
	logger *zap.Logger
}

// NewRedisNotifier connects to Redis and verifies the connection.
func NewRedisNotifier(addr, password string, db int, logger *zap.Logger) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to notification backend: %w", err)
	}

	return &RedisNotifier{client: client, logger: logger}, nil
}

// Publish broadcasts the signal on the change channel.
func (n *RedisNotifier) Publish(ctx context.Context, sig Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to marshal change signal: %w", err)
	}
	if err := n.client.Publish(ctx, redisChangeChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish change signal: %w", err)
	}
	n.logger.Debug("Change signal published",
		zap.String("suite_id", sig.SuiteID),
		zap.String("origin", sig.Origin))
	return nil
}

// Subscribe starts a goroutine delivering signals to the handler until the
// context is canceled or Close is called.
func (n *RedisNotifier) Subscribe(ctx context.Context, handler func(Signal)) error {
	n.sub = n.client.Subscribe(ctx, redisChangeChannel)

	// Confirm the subscription before returning so callers never miss
	// signals published immediately after Subscribe.
	if _, err := n.sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to change channel: %w", err)
	}

	ch := n.sub.Channel()
	go func() {
		for msg := range ch {
			var sig Signal
			if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
				n.logger.Warn("Dropping malformed change signal", zap.Error(err))
				continue
			}
			handler(sig)
		}
	}()
	return nil
}

// Close stops the subscription and releases the client.
func (n *RedisNotifier) Close() error {
	if n.sub != nil {
		if err := n.sub.Close(); err != nil {
			return err
		}
	}
	return n.client.Close()
}
