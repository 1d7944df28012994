// Package stages implements the broker-driven pipeline stages. Handlers are
// pure functions over message bodies that return a Disposition; the consumer
// loop is the only code that touches broker deliveries, so the
// acknowledgement discipline lives in exactly one place.
package stages

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/gnom48/miabox-api/internal/broker"
	"github.com/gnom48/miabox-api/internal/logger"
)

// Disposition is what a handler decided should happen to the message.
type Disposition int

const (
	// Ack removes the message: its side effect durably succeeded.
	Ack Disposition = iota
	// NackRequeue returns the message for redelivery after a transient
	// failure.
	NackRequeue
	// AckDrop removes a message that can never succeed. The handler has
	// already logged why; dropping beats redelivering forever.
	AckDrop
)

// Handler processes one message body. deliveryCount starts at 1 and grows
// with each redelivery.
type Handler interface {
	Handle(ctx context.Context, body []byte, deliveryCount int) Disposition
}

// Consumer pumps one queue into a handler. Each message is handled on its own
// goroutine so a blocking handler (inference) never starves acknowledgements
// for other in-flight messages; the broker prefetch bound caps how many run
// at once.
type Consumer struct {
	br  *broker.Client
	log *logger.Logger
}

func NewConsumer(br *broker.Client, log *logger.Logger) *Consumer {
	return &Consumer{br: br, log: log}
}

// Run consumes queue until ctx is cancelled or the delivery stream closes,
// then waits for in-flight handlers to finish.
func (c *Consumer) Run(ctx context.Context, queue string, h Handler) error {
	deliveries, err := c.br.Consume(queue)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery stream for %s closed", queue)
			}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				c.settle(d, h.Handle(ctx, d.Body, broker.DeliveryCount(d)))
			}(d)
		}
	}
}

// settle applies a handler decision to the underlying delivery.
func (c *Consumer) settle(d amqp.Delivery, disp Disposition) {
	var err error
	switch disp {
	case Ack, AckDrop:
		err = d.Ack(false)
	case NackRequeue:
		err = d.Nack(false, true)
	default:
		err = fmt.Errorf("unknown disposition %d", disp)
	}
	if err != nil {
		c.log.WithError(err).Error("failed to settle delivery")
	}
}
