package util

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/avihaie/bug-hunter/pkg/logging"
	"github.com/avihaie/bug-hunter/pkg/models"
)

// RabbitMQClient publishes and consumes fault events on a RabbitMQ exchange.
type RabbitMQClient struct {
	config   *models.RabbitMQConfig
	conn     *amqp.Connection
	channel  *amqp.Channel
	mu       sync.Mutex
	isClosed bool
}

// NewRabbitMQClient creates a new RabbitMQ client instance. Zero fields of
// config fall back to DefaultRabbitMQConfig.
func NewRabbitMQClient(config *models.RabbitMQConfig) *RabbitMQClient {
	def := models.DefaultRabbitMQConfig()
	if config == nil {
		config = def
	}
	if config.URL == "" {
		config.URL = def.URL
	}
	if config.Exchange == "" {
		config.Exchange = def.Exchange
	}
	if config.ExchangeType == "" {
		config.ExchangeType = def.ExchangeType
	}

	return &RabbitMQClient{config: config}
}

// Connect establishes a connection to RabbitMQ and declares the exchange
func (c *RabbitMQClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return fmt.Errorf("client is closed")
	}
	if c.conn != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	amqp.SetLogger(logging.NewLogLogger(slog.LevelWarn))
	conn, err := amqp.Dial(c.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		c.config.Exchange,     // name
		c.config.ExchangeType, // type
		c.config.Durable,      // durable
		c.config.AutoDelete,   // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	c.conn = conn
	c.channel = ch
	slog.Debug("rabbitmq connected", slog.String("exchange", c.config.Exchange))
	return nil
}

// Publish sends a FaultEvent to the exchange as JSON.
func (c *RabbitMQClient) Publish(ctx context.Context, event *models.FaultEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return fmt.Errorf("client is closed")
	}
	if c.channel == nil {
		return fmt.Errorf("not connected: call Connect() first")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal fault event: %w", err)
	}

	err = c.channel.PublishWithContext(
		ctx,
		c.config.Exchange,   // exchange
		c.config.RoutingKey, // routing key
		false,               // mandatory
		false,               // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.RunID,
			Timestamp:    event.Timestamp,
			AppId:        "bug-hunter",
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish fault event: %w", err)
	}
	return nil
}

// CreateQueue declares the listener queue and binds it to the exchange.
func (c *RabbitMQClient) CreateQueue(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return "", fmt.Errorf("client is closed")
	}
	if c.channel == nil {
		return "", fmt.Errorf("not connected: call Connect() first")
	}

	queue, err := c.channel.QueueDeclare(
		c.config.QueueName,       // name, empty lets the broker pick one
		c.config.QueueDurable,    // durable
		c.config.QueueAutoDelete, // delete when unused
		c.config.QueueExclusive,  // exclusive
		false,                    // no-wait
		nil,                      // arguments
	)
	if err != nil {
		return "", fmt.Errorf("failed to declare queue: %w", err)
	}

	err = c.channel.QueueBind(
		queue.Name,          // queue name
		c.config.RoutingKey, // routing key (empty for fanout)
		c.config.Exchange,   // exchange
		false,               // no-wait
		nil,                 // arguments
	)
	if err != nil {
		return "", fmt.Errorf("failed to bind queue to exchange: %w", err)
	}

	slog.Info("queue bound", slog.String("queue", queue.Name), slog.String("exchange", c.config.Exchange))
	return queue.Name, nil
}

// Consume delivers fault events from queueName to handler until ctx ends or
// the delivery channel closes. Malformed messages are dropped; handler
// errors requeue the message.
func (c *RabbitMQClient) Consume(ctx context.Context, queueName string, handler func(event *models.FaultEvent) error) error {
	c.mu.Lock()
	if c.isClosed || c.channel == nil {
		c.mu.Unlock()
		return fmt.Errorf("client is closed or not connected")
	}
	channel := c.channel
	c.mu.Unlock()

	msgs, err := channel.Consume(
		queueName, // queue
		"",        // consumer tag (empty = auto-generated)
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			var event models.FaultEvent
			if err := json.Unmarshal(msg.Body, &event); err != nil {
				slog.Warn("dropping malformed fault event", slog.String("error", err.Error()))
				_ = msg.Nack(false, false)
				continue
			}

			if err := handler(&event); err != nil {
				slog.Warn("fault event handler failed", slog.String("error", err.Error()))
				_ = msg.Nack(false, true)
				continue
			}
			_ = msg.Ack(false)
		}
	}
}

// Close closes the RabbitMQ connection and cleans up resources
func (c *RabbitMQClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return nil
	}

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.isClosed = true

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}

// IsConnected returns true if the client is connected
func (c *RabbitMQClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.isClosed
}
