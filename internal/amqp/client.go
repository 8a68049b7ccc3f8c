package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"divvy/internal/ledger"
)

// Circuit breaker states. The breaker keeps a flapping broker from
// stalling expense submission: publishing is best-effort and the
// periodic sweep catches anything a lost message leaves behind.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
)

type Client struct {
	url          string
	exchangeName string
	queueName    string

	conn    *amqp091.Connection
	channel *amqp091.Channel

	failureCount int64
	state        int32
	mu           sync.Mutex
	lastFailure  time.Time
}

var _ ledger.RetryQueue = (*Client)(nil)

func NewClient(url, exchangeName, queueName string) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
	}
	if err := client.connect(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.conn = conn
	c.channel = channel

	if err := c.setup(); err != nil {
		c.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}
	return nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Routing key matches the queue name on a direct exchange.
	err = c.channel.QueueBind(
		c.queueName,
		c.queueName,
		c.exchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// PublishDraftQueued publishes a retry notification for a parked draft.
func (c *Client) PublishDraftQueued(ctx context.Context, draftKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("circuit breaker is open, dropping publish for draft %s", draftKey)
	}

	msg := NewDraftQueuedMessage(draftKey)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = c.channel.PublishWithContext(
		ctx,
		c.exchangeName,
		c.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	slog.InfoContext(ctx, "published draft retry message",
		"draft_key", draftKey,
		"exchange", c.exchangeName,
		"queue", c.queueName)
	return nil
}

// ConsumeDraftQueued delivers retry notifications to handler with manual
// acknowledgement. Malformed messages are dropped without requeue; a
// handler error requeues the delivery. Lost connections are re-dialed
// with exponential backoff until ctx is done.
func (c *Client) ConsumeDraftQueued(ctx context.Context, handler func(context.Context, *DraftQueuedMessage) error) error {
	for {
		deliveries, err := c.channel.Consume(
			c.queueName,
			"",    // consumer
			false, // auto-ack off, we ack manually
			false, // exclusive
			false, // no-local
			false, // no-wait
			nil,
		)
		if err != nil {
			if !isConnectionError(err) {
				return fmt.Errorf("start consuming: %w", err)
			}
			if err := c.reconnect(ctx); err != nil {
				return err
			}
			continue
		}

		slog.InfoContext(ctx, "consuming draft retry queue", "queue", c.queueName)

	deliver:
		for {
			select {
			case <-ctx.Done():
				slog.InfoContext(ctx, "stopping consumer", "reason", ctx.Err())
				return ctx.Err()
			case delivery, ok := <-deliveries:
				if !ok {
					slog.WarnContext(ctx, "delivery channel closed, reconnecting")
					if err := c.reconnect(ctx); err != nil {
						return err
					}
					break deliver
				}

				msg, err := DraftQueuedMessageFromJSON(delivery.Body)
				if err != nil {
					slog.ErrorContext(ctx, "dropping malformed message", "error", err)
					delivery.Nack(false, false)
					continue
				}

				if err := handler(ctx, msg); err != nil {
					slog.ErrorContext(ctx, "handler failed, requeueing",
						"error", err,
						"draft_key", msg.DraftKey)
					delivery.Nack(false, true)
					continue
				}

				delivery.Ack(false)
			}
		}
	}
}

func (c *Client) reconnect(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(exponentialBackoff(attempt)):
		}

		if err := c.connect(); err != nil {
			slog.WarnContext(ctx, "reconnect failed",
				"attempt", attempt+1,
				"error", err)
			continue
		}
		slog.InfoContext(ctx, "reconnected to broker", "attempts", attempt+1)
		return nil
	}
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.mu.Lock()
	since := time.Since(c.lastFailure)
	c.mu.Unlock()
	if since > openTimeout {
		atomic.StoreInt32(&c.state, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordFailure() {
	count := atomic.AddInt64(&c.failureCount, 1)
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if count >= maxFailures {
		atomic.StoreInt32(&c.state, StateOpen)
		slog.Warn("circuit breaker opened", "failures", count)
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func exponentialBackoff(attempt int) time.Duration {
	backoff := time.Second * time.Duration(1<<attempt)
	if backoff <= 0 || backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection closed",
		"EOF",
		"broken pipe",
		"use of closed network connection",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
