package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config describes the broker connection.
type Config struct {
	URL      string
	Queue    string
	Prefetch int
	// DialAttempts bounds connection retries at startup (default 10).
	DialAttempts int
	// DialBackoff is the pause between connection attempts (default 2s).
	DialBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialAttempts <= 0 {
		c.DialAttempts = 10
	}
	if c.DialBackoff <= 0 {
		c.DialBackoff = 2 * time.Second
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 1
	}
	return c
}

// dial connects to the broker, retrying while it starts up.
func dial(ctx context.Context, cfg Config, logger *slog.Logger) (*amqp.Connection, error) {
	var err error
	for i := 0; i < cfg.DialAttempts; i++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			return conn, nil
		}
		logger.Warn("failed to connect to RabbitMQ, retrying",
			"attempt", i+1, "of", cfg.DialAttempts, "backoff", cfg.DialBackoff, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.DialBackoff):
		}
	}
	return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
}

// declare makes sure the durable queue exists.
func declare(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return nil
}

// Consume reads deliveries from cfg.Queue and passes them to h until ctx is
// cancelled or the broker closes the channel.
func Consume(ctx context.Context, cfg Config, h *Handler, logger *slog.Logger) error {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := dial(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declare(ch, cfg.Queue); err != nil {
		return err
	}
	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	msgs, err := ch.Consume(
		cfg.Queue, // queue
		"",        // consumer
		false,     // auto-ack: settled after processing
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	logger.Info("consuming events", "queue", cfg.Queue, "prefetch", cfg.Prefetch)
	for {
		select {
		case <-ctx.Done():
			logger.Info("consumer stopping", "queue", cfg.Queue)
			return nil
		case amqpErr, ok := <-closed:
			if ok && amqpErr != nil {
				return fmt.Errorf("channel closed: %w", amqpErr)
			}
			return errors.New("channel closed")
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			h.Handle(d.MessageId, d.Body, d)
		}
	}
}
