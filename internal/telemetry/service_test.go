package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nerrad567/ccbc-core/internal/brewery"
	"github.com/nerrad567/ccbc-core/internal/control"
	"github.com/nerrad567/ccbc-core/internal/history"
)

const testEntities = `
TemperatureSensor,TSensor 1,28FFAC378217045A
PressureSensor,PSensor 1,0
Heater,Heater 1,13,TSensor 1
Pump,Pump 1,4
`

var testNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type publishedMsg struct {
	topic    string
	payload  []byte
	retained bool
}

type mockPublisher struct {
	mu        sync.Mutex
	msgs      []publishedMsg
	connected bool
	err       error
}

func (m *mockPublisher) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, publishedMsg{topic, payload, retained})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) find(topic string) (publishedMsg, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.msgs) - 1; i >= 0; i-- {
		if m.msgs[i].topic == topic {
			return m.msgs[i], true
		}
	}
	return publishedMsg{}, false
}

type mockWriter struct {
	sensors   []string
	actuators []string
	processes int
}

func (m *mockWriter) WriteSensorReading(r brewery.SensorReading, _ time.Time) {
	m.sensors = append(m.sensors, r.ID)
}
func (m *mockWriter) WriteActuator(a brewery.ActuatorSpec, _ time.Time) {
	m.actuators = append(m.actuators, a.ID)
}
func (m *mockWriter) WriteProcess(time.Duration, bool, time.Time) { m.processes++ }

type mockHub struct {
	mu       sync.Mutex
	channels []string
}

func (m *mockHub) Broadcast(channel string, _ any) {
	m.mu.Lock()
	m.channels = append(m.channels, channel)
	m.mu.Unlock()
}

func (m *mockHub) count(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.channels {
		if c == channel {
			n++
		}
	}
	return n
}

type mockRecorder struct {
	mu          sync.Mutex
	transitions []control.Transition
	edits       []history.Edit
	err         error
}

func (m *mockRecorder) RecordTransition(_ context.Context, t control.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, t)
	return m.err
}

func (m *mockRecorder) RecordEdit(_ context.Context, e history.Edit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, e)
	return m.err
}

func (m *mockRecorder) transitionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transitions)
}

type rig struct {
	svc     *Service
	store   *brewery.Store
	pub     *mockPublisher
	writer  *mockWriter
	hub     *mockHub
	records *mockRecorder
}

func newRig(t *testing.T) *rig {
	t.Helper()
	store := brewery.NewStore()
	if err := brewery.LoadEntities(strings.NewReader(testEntities), store, brewery.DefaultDefaults()); err != nil {
		t.Fatalf("LoadEntities() error = %v", err)
	}
	r := &rig{
		store:   store,
		pub:     &mockPublisher{connected: true},
		writer:  &mockWriter{},
		hub:     &mockHub{},
		records: &mockRecorder{},
	}
	svc, err := NewService(Options{
		Store:      store,
		MQTT:       r.pub,
		Influx:     r.writer,
		Hub:        r.hub,
		History:    r.records,
		Interval:   10 * time.Millisecond,
		StaleAfter: 5 * time.Second,
		QoS:        1,
		Clock:      func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	r.svc = svc
	return r
}

func TestNewService_RequiresStore(t *testing.T) {
	if _, err := NewService(Options{}); err == nil {
		t.Error("NewService() without store: expected error")
	}
}

func TestPublishSnapshot(t *testing.T) {
	r := newRig(t)
	r.svc.PublishSnapshot()

	msg, ok := r.pub.find("ccbc/state")
	if !ok || !msg.retained {
		t.Fatalf("snapshot not published retained: %+v", msg)
	}
	var snap brewery.StateSnapshot
	if err := json.Unmarshal(msg.payload, &snap); err != nil {
		t.Fatalf("snapshot payload: %v", err)
	}
	if !snap.Stale {
		t.Error("snapshot Stale = false before any device contact")
	}
	if _, ok := snap.Heaters["Heater 1"]; !ok {
		t.Errorf("snapshot heaters = %v", snap.Heaters)
	}

	for _, topic := range []string{
		"ccbc/state/temperature_sensors/TSensor 1",
		"ccbc/state/pressure_sensors/PSensor 1",
		"ccbc/state/heaters/Heater 1",
		"ccbc/state/pumps/Pump 1",
	} {
		if _, ok := r.pub.find(topic); !ok {
			t.Errorf("entity topic %q not published", topic)
		}
	}

	if len(r.writer.sensors) != 2 || len(r.writer.actuators) != 2 || r.writer.processes != 1 {
		t.Errorf("influx writes = sensors %v actuators %v process %d",
			r.writer.sensors, r.writer.actuators, r.writer.processes)
	}
	if r.hub.count(ChannelState) != 1 {
		t.Errorf("state broadcasts = %d, want 1", r.hub.count(ChannelState))
	}
}

func TestPublishSnapshot_SkipsDisconnectedBroker(t *testing.T) {
	r := newRig(t)
	r.pub.connected = false

	r.svc.PublishSnapshot()

	if len(r.pub.msgs) != 0 {
		t.Errorf("published %d messages while disconnected", len(r.pub.msgs))
	}
	if r.hub.count(ChannelState) != 1 {
		t.Error("WebSocket broadcast should not depend on MQTT")
	}
}

func TestApplyEdit(t *testing.T) {
	r := newRig(t)

	corrections, err := r.svc.ApplyEdit(context.Background(), brewery.CategoryHeaters, "Heater 1",
		map[string]any{"setpoint": 152.0}, history.SourceAPI)
	if err != nil {
		t.Fatalf("ApplyEdit() error = %v", err)
	}
	if len(corrections) != 0 {
		t.Errorf("corrections = %+v, want none", corrections)
	}

	h, _ := r.store.Actuator(brewery.CategoryHeaters, "Heater 1")
	if h.Setpoint != 152 || h.LowerLimit != 150 || h.UpperLimit != 154 {
		t.Errorf("heater band = %v [%v, %v], want 152 [150, 154]", h.Setpoint, h.LowerLimit, h.UpperLimit)
	}
	if len(r.records.edits) != 1 || r.records.edits[0].Source != history.SourceAPI {
		t.Errorf("recorded edits = %+v", r.records.edits)
	}
	if _, ok := r.pub.find("ccbc/state/heaters/Heater 1"); !ok {
		t.Error("entity state not republished")
	}
	if r.hub.count(ChannelEntity) != 1 {
		t.Errorf("entity broadcasts = %d, want 1", r.hub.count(ChannelEntity))
	}
}

func TestApplyEdit_Rejected(t *testing.T) {
	r := newRig(t)

	_, err := r.svc.ApplyEdit(context.Background(), brewery.CategoryHeaters, "Heater 1",
		map[string]any{"status": "ON"}, history.SourceAPI)
	if !errors.Is(err, brewery.ErrReadOnlyField) {
		t.Errorf("ApplyEdit(status) error = %v, want ErrReadOnlyField", err)
	}
	if len(r.records.edits) != 0 {
		t.Error("rejected edit was recorded")
	}
}

func TestApplyEdit_SensorNotRecorded(t *testing.T) {
	r := newRig(t)

	_, err := r.svc.ApplyEdit(context.Background(), brewery.CategoryPressureSensors, "PSensor 1",
		map[string]any{"slope": 0.33}, history.SourceAPI)
	if err != nil {
		t.Fatalf("ApplyEdit() error = %v", err)
	}
	if len(r.records.edits) != 0 {
		t.Errorf("sensor edit recorded: %+v", r.records.edits)
	}
}

func TestHandleCommand(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		wantErr error
	}{
		{"valid", "ccbc/command/heaters/Heater 1", `{"setpoint": 160}`, nil},
		{"numeric string", "ccbc/command/pumps/Pump 1", `{"upper limit": "15"}`, nil},
		{"bad topic", "ccbc/state/heaters/Heater 1", `{}`, ErrInvalidCommand},
		{"bad category", "ccbc/command/valves/V1", `{"setpoint": 1}`, ErrInvalidCommand},
		{"bad json", "ccbc/command/heaters/Heater 1", `setpoint=1`, ErrInvalidCommand},
		{"unknown entity", "ccbc/command/heaters/Heater 9", `{"setpoint": 160}`, brewery.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			err := r.svc.HandleCommand(tt.topic, []byte(tt.payload))
			if tt.wantErr == nil && err != nil {
				t.Fatalf("HandleCommand() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("HandleCommand() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && (len(r.records.edits) != 1 || r.records.edits[0].Source != history.SourceMQTT) {
				t.Errorf("recorded edits = %+v, want one mqtt edit", r.records.edits)
			}
		})
	}
}

func TestOnTransition_DropsWhenFull(t *testing.T) {
	r := newRig(t)
	for i := 0; i < transitionQueueSize+3; i++ {
		r.svc.OnTransition(control.Transition{ActuatorID: "Heater 1"})
	}
	if got := r.svc.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
}

func TestRun_HandlesTransitionsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.svc.Run(ctx) }()

	r.svc.OnTransition(control.Transition{
		Category: brewery.CategoryHeaters, ActuatorID: "Heater 1",
		From: brewery.StatusOff, To: brewery.StatusOn, At: testNow,
	})

	deadline := time.Now().Add(2 * time.Second)
	for r.records.transitionCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("transition never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return")
	}

	if _, ok := r.pub.find("ccbc/event/transition"); !ok {
		t.Error("transition not published")
	}
	if r.hub.count(ChannelTransition) != 1 {
		t.Errorf("transition broadcasts = %d, want 1", r.hub.count(ChannelTransition))
	}
}

func TestRun_DrainsQueueOnCancel(t *testing.T) {
	r := newRig(t)
	r.svc.OnTransition(control.Transition{Category: brewery.CategoryHeaters, ActuatorID: "Heater 1"})
	r.svc.OnTransition(control.Transition{Category: brewery.CategoryPumps, ActuatorID: "Pump 1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.svc.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := r.records.transitionCount(); got != 2 {
		t.Errorf("recorded %d transitions, want 2", got)
	}
}
