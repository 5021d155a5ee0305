package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// RabbitMQPublisher publishes JSON events to one topic exchange.
type RabbitMQPublisher interface {
	Publish(ctx context.Context, routingKey string, event interface{}) error
	Close() error
}

type rabbitMQPublisher struct {
	// amqp channels are not safe for concurrent publishing.
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
	timeout  time.Duration
	logger   zerolog.Logger
}

func NewRabbitMQPublisher(channel *amqp.Channel, exchange string, logger zerolog.Logger) RabbitMQPublisher {
	return &rabbitMQPublisher{
		channel:  channel,
		exchange: exchange,
		timeout:  5 * time.Second,
		logger:   logger,
	}
}

func (p *rabbitMQPublisher) Publish(ctx context.Context, routingKey string, event interface{}) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", routingKey, err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(
		publishCtx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    uuid.New().String(),
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}

	p.logger.Debug().
		Str("exchange", p.exchange).
		Str("routing_key", routingKey).
		Int("bytes", len(body)).
		Msg("Event published")
	return nil
}

func (p *rabbitMQPublisher) Close() error {
	// Channel will be closed by parent
	p.logger.Info().Msg("RabbitMQ publisher closed")
	return nil
}
