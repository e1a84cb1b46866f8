// Package jobs runs background maintenance loops for the service.
package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/agent-connections/internal/events"
	"github.com/Checker-Finance/agent-connections/internal/metrics"
	"github.com/Checker-Finance/agent-connections/pkg/model"
)

// Pinger is the part of the secret store the monitor probes.
type Pinger interface {
	Ping(ctx context.Context) error
	BackendName() string
}

// Monitor periodically pings the backend, exports the result as a gauge and
// emits a backend status event whenever reachability flips.
type Monitor struct {
	logger    *zap.Logger
	target    Pinger
	publisher events.Publisher
	interval  time.Duration
	timeout   time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once

	mu    sync.RWMutex
	known bool
	up    bool
}

// NewMonitor constructs a background probe that runs every interval.
func NewMonitor(logger *zap.Logger, target Pinger, pub events.Publisher, interval time.Duration) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pub == nil {
		pub = events.Noop{}
	}
	timeout := interval / 2
	if timeout <= 0 || timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &Monitor{
		logger:    logger,
		target:    target,
		publisher: pub,
		interval:  interval,
		timeout:   timeout,
		stopCh:    make(chan struct{}),
	}
}

// Start runs one probe immediately and then one per interval until ctx ends or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("health_monitor.started",
		zap.String("backend", m.target.BackendName()),
		zap.Duration("interval", m.interval))
	m.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			m.RunOnce(ctx)
		case <-m.stopCh:
			m.logger.Info("health_monitor.stopped (manual stop)")
			return
		case <-ctx.Done():
			m.logger.Info("health_monitor.stopped (context canceled)")
			return
		}
	}
}

// Stop halts the monitor. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Up reports the result of the last probe. ok is false until the first probe finished.
func (m *Monitor) Up() (up, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.up, m.known
}

// RunOnce executes one probe cycle.
func (m *Monitor) RunOnce(ctx context.Context) {
	backend := m.target.BackendName()

	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.target.Ping(pctx)
	cancel()

	up := err == nil
	metrics.SetBackendUp(backend, up)
	if err != nil {
		m.logger.Warn("health_monitor.ping_failed", zap.String("backend", backend), zap.Error(err))
	}

	m.mu.Lock()
	changed := m.known && m.up != up
	m.known, m.up = true, up
	m.mu.Unlock()

	if !changed {
		return
	}

	m.logger.Info("health_monitor.status_changed", zap.String("backend", backend), zap.Bool("up", up))
	evt := model.ConnectionEvent{
		Type:      model.EventBackendStatus,
		Timestamp: time.Now().UTC(),
		Backend:   backend,
		Reachable: &up,
	}
	if err := m.publisher.Publish(ctx, evt); err != nil {
		m.logger.Warn("health_monitor.publish_failed", zap.Error(err))
	}
}
