package brewery

import (
	"fmt"
	"strings"
	"time"
)

// Category groups entities in the store.
type Category string

// Store categories.
const (
	CategoryTemperatureSensors Category = "temperature_sensors"
	CategoryPressureSensors    Category = "pressure_sensors"
	CategoryHeaters            Category = "heaters"
	CategoryPumps              Category = "pumps"
)

// AllCategories lists the categories in display order.
var AllCategories = []Category{
	CategoryTemperatureSensors,
	CategoryPressureSensors,
	CategoryHeaters,
	CategoryPumps,
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CategoryTemperatureSensors, CategoryPressureSensors, CategoryHeaters, CategoryPumps:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// IsSensor reports whether the category holds SensorReading values.
func (c Category) IsSensor() bool {
	return c == CategoryTemperatureSensors || c == CategoryPressureSensors
}

// SensorKind distinguishes temperature and pressure inputs.
type SensorKind string

const (
	SensorTemperature SensorKind = "temperature"
	SensorPressure    SensorKind = "pressure"
)

// ActuatorKind distinguishes heaters and pumps.
type ActuatorKind string

const (
	ActuatorHeater ActuatorKind = "heater"
	ActuatorPump   ActuatorKind = "pump"
)

// Unit is the engineering unit of a value.
type Unit string

const (
	UnitFahrenheit Unit = "F"
	UnitPSI        Unit = "PSI"
	UnitGallons    Unit = "gal"
)

// Status is the on/off state of a digital output.
type Status string

const (
	StatusOff Status = "OFF"
	StatusOn  Status = "ON"
)

// ParseStatus accepts ON/OFF in any case and the device's 1/0.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ON", "1", "HIGH":
		return StatusOn, nil
	case "OFF", "0", "LOW":
		return StatusOff, nil
	}
	return "", fmt.Errorf("brewery: invalid status %q", s)
}

// Calibration is a linear transfer function y = x*Slope + Intercept.
type Calibration struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

// Apply converts a raw value through the calibration.
func (c Calibration) Apply(x float64) float64 {
	return x*c.Slope + c.Intercept
}

// SensorReading is the latest value of one sensor.
//
// It is a value type: the store replaces it wholesale on every update, so a
// reader never sees a value from one update paired with the timestamp of
// another.
type SensorReading struct {
	ID   string     `json:"id"`
	Kind SensorKind `json:"kind"`

	// Value is temperature in F or pressure in PSI. Always finite.
	Value float64 `json:"value"`
	Unit  Unit    `json:"unit"`

	// SourceAddress is the 1-Wire serial number of a temperature probe.
	SourceAddress string `json:"source_address,omitempty"`

	// Pin is the analog input of a pressure transducer.
	Pin int `json:"pin,omitempty"`

	// Voltage is the raw transducer voltage behind Value.
	Voltage float64 `json:"voltage,omitempty"`

	// Calibration converts Voltage to PSI for pressure sensors.
	Calibration Calibration `json:"calibration"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ActuatorSpec is the configuration and state of one heater or pump.
type ActuatorSpec struct {
	ID         string       `json:"id"`
	Kind       ActuatorKind `json:"kind"`
	ControlPin int          `json:"control_pin"`

	// Index is the heater's slot in the device firmware. Heater records
	// from the device are matched on it.
	Index int `json:"index"`

	// BoundSensorID names the temperature sensor (heaters) or pressure
	// sensor (pumps) the control law reads.
	BoundSensorID string `json:"bound_sensor_id"`

	Setpoint   float64 `json:"setpoint"`
	LowerLimit float64 `json:"lower_limit"`
	UpperLimit float64 `json:"upper_limit"`

	// MaxAllowedValue forces OFF at or above it, whatever the hysteresis says.
	MaxAllowedValue *float64 `json:"max_allowed_value,omitempty"`

	// OvershootMargin sets the upper limit relative to an edited setpoint.
	// Nil means the symmetric control band is used.
	OvershootMargin *float64 `json:"overshoot_margin,omitempty"`

	// ThresholdUnit is the unit the limits are expressed in: F for
	// heaters, gallons for pumps.
	ThresholdUnit Unit `json:"threshold_unit"`

	// Calibration converts PSI to gallons for pumps.
	Calibration Calibration `json:"calibration"`

	// DerivedValue is the last computed gallons for pumps.
	DerivedValue float64 `json:"derived_value,omitempty"`

	// CurrentStatus is the desired state. Only the control engine writes it.
	CurrentStatus Status `json:"current_status"`

	// LastKnownDeviceStatus is what the device last echoed for ControlPin.
	// Only the device session writes it.
	LastKnownDeviceStatus Status `json:"last_known_device_status"`

	UpdatedAt time.Time `json:"updated_at"`
}

// HasMax reports whether a safety maximum is configured.
func (a ActuatorSpec) HasMax() bool {
	return a.MaxAllowedValue != nil
}

// BoundCategory returns the sensor category the actuator reads from.
func (a ActuatorSpec) BoundCategory() Category {
	if a.Kind == ActuatorPump {
		return CategoryPressureSensors
	}
	return CategoryTemperatureSensors
}

// clone copies the pointer fields so a returned spec cannot alias the store.
func (a ActuatorSpec) clone() ActuatorSpec {
	if a.MaxAllowedValue != nil {
		v := *a.MaxAllowedValue
		a.MaxAllowedValue = &v
	}
	if a.OvershootMargin != nil {
		v := *a.OvershootMargin
		a.OvershootMargin = &v
	}
	return a
}

// InvariantViolation records a write that was corrected to keep the
// limit ordering intact. It is a warning; the corrected write was applied.
type InvariantViolation struct {
	Category  Category `json:"category"`
	ID        string   `json:"id"`
	Field     string   `json:"field"`
	Requested float64  `json:"requested"`
	Applied   float64  `json:"applied"`
	Reason    string   `json:"reason"`
}

func (v InvariantViolation) Error() string {
	return fmt.Sprintf("brewery: %s/%s %s corrected from %g to %g: %s",
		v.Category, v.ID, v.Field, v.Requested, v.Applied, v.Reason)
}

// Unwrap lets callers match with errors.Is(err, ErrInvariantViolation).
func (v InvariantViolation) Unwrap() error {
	return ErrInvariantViolation
}
