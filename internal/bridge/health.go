package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/lumisync-core/internal/infrastructure/mqtt"
)

// defaultHealthInterval applies when HealthReporterConfig.Interval is zero.
const defaultHealthInterval = 30 * time.Second

// Status is the service snapshot carried in health messages.
type Status struct {
	Devices        int
	DevicesOnline  int
	ActiveSessions int
}

// HealthPublisher publishes health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	Version   string
	Interval  time.Duration
	QoS       byte
	Publisher HealthPublisher
	// Status is sampled for each message. Optional.
	Status func() Status
}

// HealthReporter publishes a retained health message at a fixed interval.
type HealthReporter struct {
	cfg     HealthReporterConfig
	started time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	logger Logger
}

// NewHealthReporter creates a reporter. Nothing is published until Start.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	return &HealthReporter{cfg: cfg, started: time.Now(), logger: noopLogger{}}
}

// Start publishes immediately and then every interval until ctx ends or
// Stop is called. Later calls are ignored.
func (h *HealthReporter) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done != nil {
		return
	}
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	go h.run(ctx, h.done)
}

// Stop ends reporting and publishes a final stopping status. Only the
// first call publishes.
func (h *HealthReporter) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel = nil
	h.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	if err := h.publish(HealthStopping, ""); err != nil {
		h.log().Debug("stopping status not published", "error", err)
	}
}

// SetLogger sets the logger for publish failures.
func (h *HealthReporter) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	h.mu.Lock()
	h.logger = logger
	h.mu.Unlock()
}

func (h *HealthReporter) log() Logger {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.logger
}

// PublishStarting publishes a starting status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health.
func (h *HealthReporter) PublishNow() error {
	snapshot := h.snapshot()
	status, reason := classify(h.cfg.Publisher != nil && h.cfg.Publisher.IsConnected(), snapshot)
	return h.publishSnapshot(status, reason, snapshot)
}

func (h *HealthReporter) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := h.PublishNow(); err != nil {
			h.log().Error("failed to publish health", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// classify rates the service. A broker outage only shows in the first
// message after reconnect; every known device being offline usually
// means the LAN socket lost its multicast membership.
func classify(connected bool, s Status) (HealthStatus, string) {
	switch {
	case !connected:
		return HealthDegraded, "MQTT disconnected"
	case s.Devices > 0 && s.DevicesOnline == 0:
		return HealthDegraded, "no devices reachable"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) snapshot() Status {
	if h.cfg.Status == nil {
		return Status{}
	}
	return h.cfg.Status()
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	return h.publishSnapshot(status, reason, h.snapshot())
}

func (h *HealthReporter) publishSnapshot(status HealthStatus, reason string, s Status) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(HealthMessage{
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        h.cfg.Version,
		UptimeSeconds:  int64(time.Since(h.started).Seconds()),
		Devices:        s.Devices,
		DevicesOnline:  s.DevicesOnline,
		ActiveSessions: s.ActiveSessions,
		Reason:         reason,
	})
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(mqtt.Topics{}.Health(), payload, h.cfg.QoS, true)
}
