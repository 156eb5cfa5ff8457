package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/freshstock/freshstock-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// maxDeliveries is how many times a failing message is retried before it is dead-lettered
const maxDeliveries = 3

// ErrMalformedEvent is returned by Dispatch for bodies that are not an Event envelope
var ErrMalformedEvent = errors.New("malformed event")

// MessageHandler is a function that handles a message
type MessageHandler func(ctx context.Context, event *Event) error

// Consumer handles consuming events from RabbitMQ
type Consumer struct {
	rmq       *RabbitMQ
	queueName string
	handlers  map[string]MessageHandler
	logger    *logger.Logger
}

// NewConsumer creates a consumer on one of the queues rmq declared
func NewConsumer(rmq *RabbitMQ, queueName string, log *logger.Logger) (*Consumer, error) {
	if !rmq.topology.hasQueue(queueName) {
		return nil, fmt.Errorf("queue %s is not part of the %s topology", queueName, rmq.topology.Service)
	}

	c := NewDispatcher(log)
	c.rmq = rmq
	c.queueName = queueName
	return c, nil
}

// NewDispatcher creates a consumer without a broker connection. Only Dispatch can be used on it.
func NewDispatcher(log *logger.Logger) *Consumer {
	return &Consumer{
		handlers: make(map[string]MessageHandler),
		logger:   log,
	}
}

// RegisterHandler registers a handler for a specific event type
func (c *Consumer) RegisterHandler(eventType string, handler MessageHandler) {
	c.handlers[eventType] = handler
}

// Start starts consuming messages from the queue
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.rmq.Channel().Consume(
		c.queueName, // queue
		"",          // consumer tag (auto-generated)
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info().Str("queue", c.queueName).Msg("consumer started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info().Str("queue", c.queueName).Msg("consumer stopped")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn().Msg("message channel closed")
					return
				}
				c.handleDelivery(ctx, msg)
			}
		}
	}()

	return nil
}

// Dispatch decodes body and runs the handler registered for its event type.
// Unknown event types are ignored.
func (c *Consumer) Dispatch(ctx context.Context, body []byte) error {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	handler, ok := c.handlers[event.Type]
	if !ok {
		c.logger.Debug().
			Str("event_type", event.Type).
			Msg("no handler registered for event type")
		return nil
	}

	ctx = WithCorrelationID(ctx, event.CorrelationID)

	c.logger.Debug().
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Str("correlation_id", event.CorrelationID).
		Msg("processing event")

	if err := handler(ctx, &event); err != nil {
		return fmt.Errorf("handle %s %s: %w", event.Type, event.ID, err)
	}
	return nil
}

func (c *Consumer) handleDelivery(ctx context.Context, msg amqp.Delivery) {
	err := c.Dispatch(ctx, msg.Body)
	switch {
	case err == nil:
		msg.Ack(false)
	case errors.Is(err, ErrMalformedEvent):
		c.logger.Error().Err(err).Msg("rejecting malformed event")
		msg.Reject(false)
	case getRetryCount(msg) >= maxDeliveries:
		c.logger.Warn().Err(err).Str("message_id", msg.MessageId).Msg("max retries exceeded, sending to DLQ")
		msg.Reject(false)
	default:
		c.logger.Error().Err(err).Str("message_id", msg.MessageId).Msg("failed to process event")
		msg.Nack(false, true)
	}
}

func getRetryCount(msg amqp.Delivery) int {
	if msg.Headers == nil {
		return 0
	}

	if deaths, ok := msg.Headers["x-death"].([]interface{}); ok {
		for _, death := range deaths {
			if d, ok := death.(amqp.Table); ok {
				if count, ok := d["count"].(int64); ok {
					return int(count)
				}
			}
		}
	}

	return 0
}
