// Package events publishes connection change notifications. Events describe what
// changed and who changed it; they never carry the secret value.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Checker-Finance/agent-connections/pkg/model"
)

// EnvelopeVersion is the schema version stamped on every envelope.
const EnvelopeVersion = "1.0.0"

// Publisher delivers connection events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, evt model.ConnectionEvent) error
	Close() error
}

// Envelope is the wire format shared by every driver.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	EventType string          `json:"event_type"`
	Version   string          `json:"version"`
	Service   string          `json:"service"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope wraps evt for publishing.
func NewEnvelope(evt model.ConnectionEvent, service string) (*Envelope, error) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:        uuid.New(),
		EventType: evt.Type,
		Version:   EnvelopeVersion,
		Service:   service,
		Timestamp: evt.Timestamp,
		Payload:   payload,
	}, nil
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, model.ConnectionEvent) error { return nil }
func (Noop) Close() error                                         { return nil }
