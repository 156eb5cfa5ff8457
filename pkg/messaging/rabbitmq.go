package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/freshstock/freshstock-backend/pkg/config"
	"github.com/freshstock/freshstock-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Binding routes messages matching RoutingKey on Exchange into a queue
type Binding struct {
	Exchange   string
	RoutingKey string
}

// Queue is a durable queue. Messages it rejects are dead-lettered to the
// service's DLQ under the queue's name.
type Queue struct {
	Name     string
	Bindings []Binding
}

// Topology lists the topic exchanges and queues a service owns
type Topology struct {
	Service   string
	Exchanges []string
	Queues    []Queue
}

// DeadLetterQueue names the queue collecting the service's rejected messages
func (t Topology) DeadLetterQueue() string {
	return "dlq." + t.Service
}

// Validate checks that every binding targets a declared exchange and that
// queue names are unique
func (t Topology) Validate() error {
	if t.Service == "" {
		return fmt.Errorf("topology has no service name")
	}
	exchanges := make(map[string]bool, len(t.Exchanges))
	for _, name := range t.Exchanges {
		exchanges[name] = true
	}
	queues := make(map[string]bool, len(t.Queues))
	for _, q := range t.Queues {
		if queues[q.Name] {
			return fmt.Errorf("queue %s declared twice", q.Name)
		}
		queues[q.Name] = true
		for _, b := range q.Bindings {
			if !exchanges[b.Exchange] {
				return fmt.Errorf("queue %s binds undeclared exchange %s", q.Name, b.Exchange)
			}
		}
	}
	return nil
}

func (t Topology) hasExchange(name string) bool {
	for _, e := range t.Exchanges {
		if e == name {
			return true
		}
	}
	return false
}

func (t Topology) hasQueue(name string) bool {
	for _, q := range t.Queues {
		if q.Name == name {
			return true
		}
	}
	return false
}

// RabbitMQ manages the connection to RabbitMQ
type RabbitMQ struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	config   *config.RabbitMQConfig
	topology Topology
	logger   *logger.Logger
	mu       sync.RWMutex
}

// New connects to the broker and declares topology. Connecting is retried up
// to MaxRetries times, ReconnectDelay apart, so the service can start before
// the broker is ready.
func New(ctx context.Context, cfg *config.RabbitMQConfig, topology Topology, log *logger.Logger) (*RabbitMQ, error) {
	if err := topology.Validate(); err != nil {
		return nil, err
	}

	rmq := &RabbitMQ{
		config:   cfg,
		topology: topology,
		logger:   log,
	}

	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = rmq.connect(); err == nil {
			return rmq, nil
		}
		if i == attempts {
			break
		}
		log.Warn().Err(err).Int("attempt", i).Dur("retry_in", cfg.ReconnectDelay).Msg("RabbitMQ not reachable")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.ReconnectDelay):
		}
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}

func (r *RabbitMQ) connect() error {
	conn, err := amqp.Dial(r.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Qos(r.config.PrefetchCount, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := declare(ch, r.topology); err != nil {
		conn.Close()
		return err
	}

	r.mu.Lock()
	r.conn, r.channel = conn, ch
	r.mu.Unlock()

	r.logger.Info().
		Int("exchanges", len(r.topology.Exchanges)).
		Int("queues", len(r.topology.Queues)).
		Msg("connected to RabbitMQ")
	return nil
}

// declare creates the dead letter exchange and queue, then the topology.
// Every queue dead-letters with its own name as routing key.
func declare(ch *amqp.Channel, t Topology) error {
	if err := ch.ExchangeDeclare(ExchangeDeadLetter, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLX exchange: %w", err)
	}
	dlq := t.DeadLetterQueue()
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	for _, name := range t.Exchanges {
		if err := ch.ExchangeDeclare(name, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}

	for _, q := range t.Queues {
		args := amqp.Table{
			"x-dead-letter-exchange":    ExchangeDeadLetter,
			"x-dead-letter-routing-key": q.Name,
		}
		if _, err := ch.QueueDeclare(q.Name, true, false, false, false, args); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.Name, err)
		}
		if err := ch.QueueBind(dlq, q.Name, ExchangeDeadLetter, false, nil); err != nil {
			return fmt.Errorf("failed to bind DLQ for %s: %w", q.Name, err)
		}
		for _, b := range q.Bindings {
			if err := ch.QueueBind(q.Name, b.RoutingKey, b.Exchange, false, nil); err != nil {
				return fmt.Errorf("failed to bind %s to %s/%s: %w", q.Name, b.Exchange, b.RoutingKey, err)
			}
		}
	}
	return nil
}

// Channel returns the current channel
func (r *RabbitMQ) Channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

// Close closes the RabbitMQ connection
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to close channel")
		}
	}

	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}

	r.logger.Info().Msg("RabbitMQ connection closed")
	return nil
}

// Health returns the health status of RabbitMQ
func (r *RabbitMQ) Health() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := map[string]string{
		"status": "up",
	}

	if r.conn == nil || r.conn.IsClosed() {
		status["status"] = "down"
		status["error"] = "connection closed"
	}

	return status
}
