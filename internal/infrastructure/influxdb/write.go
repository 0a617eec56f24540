package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/ccbc-core/internal/brewery"
)

// Measurement names.
const (
	MeasurementSensor   = "sensor"
	MeasurementActuator = "actuator"
	MeasurementProcess  = "process"
)

// WriteSensorReading records one sensor value, tagged by sensor and kind.
// Pressure points also carry the raw voltage.
func (c *Client) WriteSensorReading(r brewery.SensorReading, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"value": r.Value,
	}
	if r.Kind == brewery.SensorPressure {
		fields["voltage"] = r.Voltage
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementSensor,
		map[string]string{
			"sensor": r.ID,
			"kind":   string(r.Kind),
			"unit":   string(r.Unit),
		},
		fields,
		ts,
	))
}

// WriteActuator records an actuator's desired and echoed status with the
// band it was controlled against. Status is written as 0/1 so it can be
// graphed next to the controlled value.
func (c *Client) WriteActuator(a brewery.ActuatorSpec, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"on":          statusBit(a.CurrentStatus),
		"device_on":   statusBit(a.LastKnownDeviceStatus),
		"setpoint":    a.Setpoint,
		"lower_limit": a.LowerLimit,
		"upper_limit": a.UpperLimit,
	}
	if a.Kind == brewery.ActuatorPump {
		fields["gallons"] = a.DerivedValue
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementActuator,
		map[string]string{
			"actuator": a.ID,
			"kind":     string(a.Kind),
		},
		fields,
		ts,
	))
}

// WriteProcess records process-level values: elapsed time and staleness.
func (c *Client) WriteProcess(elapsed time.Duration, stale bool, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementProcess,
		nil,
		map[string]interface{}{
			"elapsed_seconds": elapsed.Seconds(),
			"stale":           stale,
		},
		ts,
	))
}

// WritePoint writes a custom point with a specific timestamp.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}

func statusBit(s brewery.Status) int {
	if s == brewery.StatusOn {
		return 1
	}
	return 0
}
