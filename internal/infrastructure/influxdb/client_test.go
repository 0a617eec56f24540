package influxdb

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/ccbc-core/internal/brewery"
	"github.com/nerrad567/ccbc-core/internal/infrastructure/config"
)

type fakeWriter struct {
	mu      sync.Mutex
	lines   []string
	flushes int
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, write.PointToLineProtocol(p, time.Second))
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
}

func (f *fakeWriter) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	return &Client{writeAPI: w, connected: true}, w
}

var testTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestWriteSensorReading(t *testing.T) {
	c, w := newTestClient()

	c.WriteSensorReading(brewery.SensorReading{
		ID: "TSensor 1", Kind: brewery.SensorTemperature, Value: 152.5, Unit: brewery.UnitFahrenheit,
	}, testTime)
	c.WriteSensorReading(brewery.SensorReading{
		ID: "PSensor 1", Kind: brewery.SensorPressure, Value: 0.74, Voltage: 2.5, Unit: brewery.UnitPSI,
	}, testTime)

	lines := w.written()
	if len(lines) != 2 {
		t.Fatalf("wrote %d points, want 2", len(lines))
	}
	wantTemp := `sensor,kind=temperature,sensor=TSensor\ 1,unit=F value=152.5 1773478800`
	if strings.TrimSpace(lines[0]) != wantTemp {
		t.Errorf("temperature line = %q, want %q", lines[0], wantTemp)
	}
	if !strings.Contains(lines[1], "voltage=2.5") || !strings.Contains(lines[1], "kind=pressure") {
		t.Errorf("pressure line = %q, want voltage field", lines[1])
	}
}

func TestWriteActuator(t *testing.T) {
	c, w := newTestClient()

	c.WriteActuator(brewery.ActuatorSpec{
		ID: "Heater 1", Kind: brewery.ActuatorHeater,
		Setpoint: 152, LowerLimit: 150, UpperLimit: 154,
		CurrentStatus: brewery.StatusOn, LastKnownDeviceStatus: brewery.StatusOff,
	}, testTime)
	c.WriteActuator(brewery.ActuatorSpec{
		ID: "Pump 1", Kind: brewery.ActuatorPump, DerivedValue: 13.5,
		CurrentStatus: brewery.StatusOff, LastKnownDeviceStatus: brewery.StatusOff,
	}, testTime)

	lines := w.written()
	if len(lines) != 2 {
		t.Fatalf("wrote %d points, want 2", len(lines))
	}
	for _, want := range []string{`actuator=Heater\ 1`, "on=1i", "device_on=0i", "setpoint=152", "lower_limit=150"} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("heater line %q missing %q", lines[0], want)
		}
	}
	if strings.Contains(lines[0], "gallons") {
		t.Errorf("heater line %q has gallons", lines[0])
	}
	if !strings.Contains(lines[1], "gallons=13.5") {
		t.Errorf("pump line %q missing gallons", lines[1])
	}
}

func TestWriteProcess(t *testing.T) {
	c, w := newTestClient()
	c.WriteProcess(90*time.Second, true, testTime)

	lines := w.written()
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "process elapsed_seconds=90,stale=true") {
		t.Errorf("process line = %v", lines)
	}
}

func TestWritesSkippedWhenDisconnected(t *testing.T) {
	c, w := newTestClient()
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	c.WriteSensorReading(brewery.SensorReading{ID: "TSensor 1"}, testTime)
	c.WriteActuator(brewery.ActuatorSpec{ID: "Heater 1"}, testTime)
	c.WritePoint("custom", nil, map[string]interface{}{"v": 1}, testTime)
	c.Flush()

	if got := w.written(); len(got) != 0 {
		t.Errorf("wrote %v after Close()", got)
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1 (from Close)", w.flushes)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHandleWriteErrors(t *testing.T) {
	c, _ := newTestClient()

	var got []error
	c.SetOnError(func(err error) { got = append(got, err) })

	ch := make(chan error, 2)
	ch <- errors.New("bucket not found")
	ch <- errors.New("unauthorized")
	close(ch)
	c.handleWriteErrors(ch)

	if len(got) != 2 || !errors.Is(got[0], ErrWriteFailed) {
		t.Errorf("callback got %v, want two ErrWriteFailed", got)
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil = %v", err)
	}
}
