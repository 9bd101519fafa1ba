package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const changeExchange = "suitesync.changes"

// AMQPNotifier implements Publisher and Subscriber over a RabbitMQ fanout
// exchange. Every device binds its own transient queue, so each gets every
// change signal. The consume loop reconnects with backoff if the broker
// connection drops.
type AMQPNotifier struct {
	url    string
	logger *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// NewAMQPNotifier dials the broker and declares the fanout exchange.
func NewAMQPNotifier(url string, logger *zap.Logger) (*AMQPNotifier, error) {
	n := &AMQPNotifier{url: url, logger: logger}
	if err := n.connect(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *AMQPNotifier) connect() error {
	conn, err := amqp.Dial(n.url)
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(changeExchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	n.mu.Lock()
	n.conn = conn
	n.channel = ch
	n.mu.Unlock()
	return nil
}

// Publish broadcasts the signal to the fanout exchange.
func (n *AMQPNotifier) Publish(ctx context.Context, sig Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to marshal change signal: %w", err)
	}

	n.mu.Lock()
	ch := n.channel
	n.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("notifier is not connected")
	}

	err = ch.PublishWithContext(ctx, changeExchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        data,
		Timestamp:   sig.At,
	})
	if err != nil {
		return fmt.Errorf("failed to publish change signal: %w", err)
	}

	n.logger.Debug("Change signal published",
		zap.String("suite_id", sig.SuiteID),
		zap.String("origin", sig.Origin))
	return nil
}

// Subscribe consumes signals on a transient queue bound to the exchange.
// The loop reconnects with exponential backoff until the context ends.
func (n *AMQPNotifier) Subscribe(ctx context.Context, handler func(Signal)) error {
	go func() {
		backoff := time.Second
		for {
			if ctx.Err() != nil || n.isClosed() {
				return
			}
			if err := n.consumeLoop(ctx, handler); err != nil {
				n.logger.Warn("Change signal consumer ended, reconnecting",
					zap.Error(err),
					zap.Duration("backoff", backoff))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			if err := n.connect(); err == nil {
				backoff = time.Second
			}
		}
	}()
	return nil
}

func (n *AMQPNotifier) consumeLoop(ctx context.Context, handler func(Signal)) error {
	n.mu.Lock()
	ch := n.channel
	n.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("notifier is not connected")
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", changeExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			var sig Signal
			if err := json.Unmarshal(d.Body, &sig); err != nil {
				n.logger.Warn("Dropping malformed change signal", zap.Error(err))
				continue
			}
			handler(sig)
		}
	}
}

func (n *AMQPNotifier) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// Close shuts the channel and connection.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	if n.channel != nil {
		n.channel.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
