package events

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Checker-Finance/agent-connections/pkg/config"
)

// New builds the publisher selected by cfg.EventsDriver.
func New(cfg *config.Config, logger *zap.Logger) (Publisher, error) {
	switch cfg.EventsDriver {
	case config.EventsNone, "":
		return Noop{}, nil
	case config.EventsNATS:
		p, err := NewNATS(cfg.NATSURL, cfg.EventsSubject, cfg.ServiceName, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.EventsAMQP:
		p, err := NewAMQP(cfg.AMQPURL, cfg.AMQPExchange, cfg.ServiceName, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.EventsDriver)
	}
}
