package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/agent-connections/internal/metrics"
	"github.com/Checker-Finance/agent-connections/pkg/model"
)

// amqpChannel is the part of *amqp.Channel the publisher needs.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes envelopes to a topic exchange, routed by event type.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	service  string
	logger   *zap.Logger
}

// NewAMQP connects to RabbitMQ and declares a durable topic exchange.
func NewAMQP(url, exchange, service string, logger *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange, service: service, logger: logger}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, evt model.ConnectionEvent) error {
	env, err := NewEnvelope(evt, p.service)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		env.EventType, // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    env.ID.String(),
			Timestamp:    env.Timestamp,
			AppId:        p.service,
			Type:         env.EventType,
			Body:         body,
		},
	)
	if err != nil {
		metrics.IncEventPublishError("amqp")
		p.logger.Error("events.amqp.publish_failed",
			zap.String("exchange", p.exchange),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		return err
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
