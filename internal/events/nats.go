package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/agent-connections/internal/metrics"
	"github.com/Checker-Finance/agent-connections/pkg/model"
)

// jetStream is the part of nats.JetStreamContext the publisher needs.
type jetStream interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSPublisher publishes envelopes to a JetStream subject.
type NATSPublisher struct {
	nc      *nats.Conn
	js      jetStream
	subject string
	service string
	logger  *zap.Logger
}

// NewNATS connects to url and publishes to subject through JetStream.
func NewNATS(url, subject, service string, logger *zap.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name(service))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to init JetStream: %w", err)
	}
	return &NATSPublisher{nc: nc, js: js, subject: subject, service: service, logger: logger}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, evt model.ConnectionEvent) error {
	env, err := NewEnvelope(evt, p.service)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := &nats.Msg{
		Subject: p.subject,
		Data:    data,
		Header: nats.Header{
			"event_type":   []string{env.EventType},
			"event_id":     []string{env.ID.String()},
			"service":      []string{p.service},
			"content_type": []string{"application/json"},
			"owner_id":     []string{evt.OwnerUserID},
		},
	}
	if _, err := p.js.PublishMsg(msg); err != nil {
		metrics.IncEventPublishError("nats")
		p.logger.Error("events.nats.publish_failed",
			zap.String("subject", p.subject),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		return err
	}
	p.logger.Debug("events.nats.published",
		zap.String("subject", p.subject),
		zap.String("event_type", env.EventType),
		zap.String("key_id", evt.KeyID))
	return nil
}

func (p *NATSPublisher) Close() error {
	if p.nc != nil {
		return p.nc.Drain()
	}
	return nil
}
