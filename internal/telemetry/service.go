package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ccbc-core/internal/brewery"
	"github.com/nerrad567/ccbc-core/internal/control"
	"github.com/nerrad567/ccbc-core/internal/history"
	"github.com/nerrad567/ccbc-core/internal/infrastructure/mqtt"
)

// WebSocket channels.
const (
	ChannelState      = "state"
	ChannelTransition = "transition"
	ChannelEntity     = "entity"
)

const (
	// DefaultInterval is the snapshot period when none is configured.
	DefaultInterval = 2 * time.Second

	transitionQueueSize = 64
	recordTimeout       = 5 * time.Second
)

// ErrInvalidCommand is returned for an unparseable MQTT command.
var ErrInvalidCommand = errors.New("telemetry: invalid command")

// Logger defines the logging interface used by the service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher is the MQTT side, satisfied by *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// PointWriter is the time-series side, satisfied by *influxdb.Client.
type PointWriter interface {
	WriteSensorReading(r brewery.SensorReading, ts time.Time)
	WriteActuator(a brewery.ActuatorSpec, ts time.Time)
	WriteProcess(elapsed time.Duration, stale bool, ts time.Time)
}

// Broadcaster pushes to WebSocket clients, satisfied by *api.Hub.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Recorder stores actuator events, satisfied by *history.SQLiteRepository.
type Recorder interface {
	RecordTransition(ctx context.Context, t control.Transition) error
	RecordEdit(ctx context.Context, e history.Edit) error
}

// Options configures a Service.
type Options struct {
	Store *brewery.Store

	MQTT    Publisher
	Influx  PointWriter
	Hub     Broadcaster
	History Recorder

	// Interval is the snapshot period. Defaults to DefaultInterval.
	Interval time.Duration

	// StaleAfter is the freshness threshold reported in snapshots.
	StaleAfter time.Duration

	QoS    byte
	Logger Logger
	Clock  func() time.Time
}

// Service is the telemetry loop.
//
// Thread Safety: OnTransition, ApplyEdit and HandleCommand may be called
// from any goroutine while Run is active.
type Service struct {
	store      *brewery.Store
	mqtt       Publisher
	influx     PointWriter
	hub        Broadcaster
	history    Recorder
	interval   time.Duration
	staleAfter time.Duration
	qos        byte
	now        func() time.Time

	transitions chan control.Transition
	dropped     atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewService creates a telemetry service over store.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("telemetry: store is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{
		store:       opts.Store,
		mqtt:        opts.MQTT,
		influx:      opts.Influx,
		hub:         opts.Hub,
		history:     opts.History,
		interval:    opts.Interval,
		staleAfter:  opts.StaleAfter,
		qos:         opts.QoS,
		now:         opts.Clock,
		transitions: make(chan control.Transition, transitionQueueSize),
		logger:      opts.Logger,
	}, nil
}

// SetLogger replaces the logger.
func (s *Service) SetLogger(l Logger) {
	s.loggerMu.Lock()
	s.logger = l
	s.loggerMu.Unlock()
}

func (s *Service) log() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Dropped returns how many transitions were discarded because the queue
// was full.
func (s *Service) Dropped() uint64 {
	return s.dropped.Load()
}

// Run publishes a snapshot every interval and drains queued transitions
// until ctx is cancelled. Transitions still queued at cancel are handled
// before Run returns.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.PublishSnapshot()
	for {
		select {
		case <-ctx.Done():
			s.drainTransitions()
			return nil
		case <-ticker.C:
			s.PublishSnapshot()
		case t := <-s.transitions:
			s.handleTransition(t)
		}
	}
}

func (s *Service) drainTransitions() {
	for {
		select {
		case t := <-s.transitions:
			s.handleTransition(t)
		default:
			return
		}
	}
}

// OnTransition queues a control transition. It never blocks the caller;
// when the queue is full the transition is dropped and counted.
func (s *Service) OnTransition(t control.Transition) {
	select {
	case s.transitions <- t:
	default:
		s.dropped.Add(1)
		s.log().Warn("transition queue full, dropping event",
			"category", t.Category, "actuator", t.ActuatorID, "to", t.To)
	}
}

func (s *Service) handleTransition(t control.Transition) {
	if s.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		err := s.history.RecordTransition(ctx, t)
		cancel()
		if err != nil {
			s.log().Error("recording transition failed", "actuator", t.ActuatorID, "error", err)
		}
	}
	s.publishJSON(mqtt.Topics{}.Transition(), t, false)
	if s.hub != nil {
		s.hub.Broadcast(ChannelTransition, t)
	}
}

// PublishSnapshot sends the current store to every sink.
func (s *Service) PublishSnapshot() {
	now := s.now()
	snap := s.store.State(s.staleAfter)

	s.publishJSON(mqtt.Topics{}.Snapshot(), snap, true)
	for _, cat := range brewery.AllCategories {
		entities, err := s.store.Snapshot(cat)
		if err != nil {
			continue
		}
		for id, fields := range entities {
			s.publishJSON(mqtt.Topics{}.EntityState(string(cat), id), fields, true)
		}
	}

	if s.influx != nil {
		for _, cat := range []brewery.Category{brewery.CategoryTemperatureSensors, brewery.CategoryPressureSensors} {
			for _, r := range s.store.Sensors(cat) {
				s.influx.WriteSensorReading(r, now)
			}
		}
		for _, a := range s.store.AllActuators() {
			s.influx.WriteActuator(a, now)
		}
		s.influx.WriteProcess(s.store.ElapsedProcessTime(), snap.Stale, now)
	}

	if s.hub != nil {
		s.hub.Broadcast(ChannelState, snap)
	}
}

func (s *Service) publishJSON(topic string, v any, retained bool) {
	if s.mqtt == nil || !s.mqtt.IsConnected() {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		s.log().Error("marshalling telemetry payload failed", "topic", topic, "error", err)
		return
	}
	if err := s.mqtt.Publish(topic, payload, s.qos, retained); err != nil {
		s.log().Warn("telemetry publish failed", "topic", topic, "error", err)
	}
}

// ApplyEdit writes an operator edit to the store, records it for
// actuators and republishes the entity. The returned corrections are the
// invariant fixes the store made; the edit was applied with them.
func (s *Service) ApplyEdit(ctx context.Context, cat brewery.Category, id string, fields map[string]any, source string) ([]brewery.InvariantViolation, error) {
	corrections, err := s.store.SetFields(cat, id, fields)
	if err != nil {
		return nil, err
	}
	for _, c := range corrections {
		s.log().Warn("edit corrected", "category", cat, "id", id,
			"field", c.Field, "requested", c.Requested, "applied", c.Applied, "source", source)
	}

	if !cat.IsSensor() && s.history != nil {
		err := s.history.RecordEdit(ctx, history.Edit{
			Category:    cat,
			ActuatorID:  id,
			Fields:      fields,
			Corrections: corrections,
			Source:      source,
			At:          s.now(),
		})
		if err != nil {
			s.log().Error("recording edit failed", "actuator", id, "error", err)
		}
	}

	if entities, err := s.store.Snapshot(cat); err == nil {
		if entity, ok := entities[id]; ok {
			s.publishJSON(mqtt.Topics{}.EntityState(string(cat), id), entity, true)
			if s.hub != nil {
				s.hub.Broadcast(ChannelEntity, map[string]any{
					"category": cat,
					"id":       id,
					"fields":   entity,
				})
			}
		}
	}

	s.log().Info("entity edited", "category", cat, "id", id, "source", source, "fields", len(fields))
	return corrections, nil
}

// HandleCommand applies an edit received on ccbc/command/{category}/{id}.
// It matches mqtt.MessageHandler.
func (s *Service) HandleCommand(topic string, payload []byte) error {
	catName, id, ok := mqtt.Topics{}.ParseCommand(topic)
	if !ok {
		return fmt.Errorf("%w: topic %q", ErrInvalidCommand, topic)
	}
	cat, err := brewery.ParseCategory(catName)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return fmt.Errorf("%w: payload: %w", ErrInvalidCommand, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	_, err = s.ApplyEdit(ctx, cat, id, fields, history.SourceMQTT)
	return err
}
