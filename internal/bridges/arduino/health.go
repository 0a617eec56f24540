package arduino

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// HealthStatus is the bridge state reported on the health topic.
type HealthStatus string

const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStale    HealthStatus = "stale"
	HealthStopping HealthStatus = "stopping"
	HealthOffline  HealthStatus = "offline"
)

// DefaultHealthInterval is how often health is published when unset.
const DefaultHealthInterval = 30 * time.Second

// HealthTopic returns the MQTT topic for bridge health.
func HealthTopic() string {
	return "ccbc/health/arduino"
}

// HealthMessage is the JSON health payload.
type HealthMessage struct {
	Status        HealthStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	Version       string       `json:"version,omitempty"`
	Port          string       `json:"port,omitempty"`
	State         string       `json:"state,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	LastContact   *time.Time   `json:"last_contact,omitempty"`
	Stats         *Stats       `json:"stats,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}

// HealthPublisher publishes health messages, typically the MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	Version   string
	Interval  time.Duration
	Publisher HealthPublisher

	// Session supplies link state and counters. Required.
	Session *Session
}

// HealthReporter periodically publishes session health.
type HealthReporter struct {
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	session   *Session

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a reporter; call Start to begin publishing.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return &HealthReporter{
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		session:   cfg.Session,
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// LWTPayload returns the Last Will payload to register on HealthTopic
// when connecting to the broker.
func LWTPayload() ([]byte, error) {
	return json.Marshal(HealthMessage{
		Status:    HealthOffline,
		Reason:    "unexpected disconnect",
		Timestamp: time.Now().UTC(),
	})
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.session == nil || h.session.State() == StateClosed {
		return HealthDegraded, "serial link closed"
	}
	if h.session.Stale() {
		return HealthStale, "no device data"
	}
	return HealthHealthy, ""
}

// BuildMessage assembles a health message for status.
func (h *HealthReporter) BuildMessage(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Status:        status,
		Reason:        reason,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Timestamp:     time.Now().UTC(),
	}
	if h.session != nil {
		msg.Port = h.session.LinkName()
		msg.State = h.session.State().String()
		stats := h.session.Stats()
		msg.Stats = &stats
		if last := h.session.store.LastDeviceContact(); !last.IsZero() {
			msg.LastContact = &last
		}
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.BuildMessage(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(HealthTopic(), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
