package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/gnom48/miabox-api/internal/types"
)

// Client owns one connection and one channel to the broker. All three
// pipeline queues are declared durable at startup so publishes and consumes
// never race queue creation.
type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewClient dials the broker, retrying with exponential backoff for up to
// dialTimeout, then declares the pipeline queues and applies the prefetch
// bound.
func NewClient(url string, prefetch int, dialTimeout time.Duration) (*Client, error) {
	var conn *amqp.Connection

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = dialTimeout

	operation := func() error {
		var err error
		conn, err = amqp.Dial(url)
		return err
	}
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	for _, name := range []string{types.QueueQueued, types.QueueProcessing, types.QueueComplete} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table{
			"x-queue-type": "quorum",
		}); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
	}

	return &Client{conn: conn, ch: ch}, nil
}

func (c *Client) Close() error {
	if err := c.ch.Close(); err != nil {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}

// Publish sends one persistent JSON message to a queue via the default
// exchange. The error is synchronous: callers see a broker rejection
// immediately.
func (c *Client) Publish(ctx context.Context, queue string, body []byte) error {
	err := c.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}

// Consume returns the delivery stream for a queue with manual
// acknowledgement.
func (c *Client) Consume(queue string) (<-chan amqp.Delivery, error) {
	deliveries, err := c.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume from %s: %w", queue, err)
	}
	return deliveries, nil
}

// DeliveryCount reports how many times a message has been delivered. Quorum
// queues track this in the x-delivery-count header; without it the
// Redelivered flag gives a floor of two.
func DeliveryCount(d amqp.Delivery) int {
	if d.Headers != nil {
		switch v := d.Headers["x-delivery-count"].(type) {
		case int32:
			return int(v) + 1
		case int64:
			return int(v) + 1
		}
	}
	if d.Redelivered {
		return 2
	}
	return 1
}
