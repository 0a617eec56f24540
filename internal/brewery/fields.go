package brewery

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cast"
)

// Field names exposed through Get, Set and Snapshot. The names with spaces
// are kept for compatibility with existing dashboards.
const (
	FieldName          = "name"
	FieldValue         = "value"
	FieldUnits         = "units"
	FieldUpdatedAt     = "updated_at"
	FieldSerialNum     = "serial_num"
	FieldPinNum        = "pin_num"
	FieldPressure      = "pressure"
	FieldVoltage       = "voltage"
	FieldSlope         = "slope"
	FieldIntercept     = "intercept"
	FieldStatus        = "status"
	FieldDeviceStatus  = "device_status"
	FieldIndex         = "index"
	FieldSetpoint      = "setpoint"
	FieldUpperLimit    = "upper limit"
	FieldLowerLimit    = "lower limit"
	FieldMaxTemp       = "maxtemp"
	FieldOvershoot     = "overshoot"
	FieldTSensorName   = "tsensor_name"
	FieldPSensorName   = "psensor_name"
	FieldGallons       = "gallons"
	FieldThresholdUnit = "threshold_unit"
)

// writableFields lists what external collaborators may change per category.
var writableFields = map[Category]map[string]bool{
	CategoryTemperatureSensors: {},
	CategoryPressureSensors: {
		FieldSlope:     true,
		FieldIntercept: true,
	},
	CategoryHeaters: {
		FieldSetpoint:    true,
		FieldUpperLimit:  true,
		FieldLowerLimit:  true,
		FieldMaxTemp:     true,
		FieldTSensorName: true,
	},
	CategoryPumps: {
		FieldSetpoint:    true,
		FieldUpperLimit:  true,
		FieldLowerLimit:  true,
		FieldPSensorName: true,
		FieldSlope:       true,
		FieldIntercept:   true,
	},
}

// WritableFields returns the externally writable fields of a category.
func WritableFields(cat Category) []string {
	out := make([]string, 0, len(writableFields[cat]))
	for f := range writableFields[cat] {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func sensorFields(r SensorReading) map[string]any {
	f := map[string]any{
		FieldName:      r.ID,
		FieldValue:     r.Value,
		FieldUnits:     string(r.Unit),
		FieldUpdatedAt: r.UpdatedAt,
	}
	switch r.Kind {
	case SensorTemperature:
		f[FieldSerialNum] = r.SourceAddress
	case SensorPressure:
		f[FieldPressure] = r.Value
		f[FieldVoltage] = r.Voltage
		f[FieldPinNum] = r.Pin
		f[FieldSlope] = r.Calibration.Slope
		f[FieldIntercept] = r.Calibration.Intercept
	}
	return f
}

func actuatorFields(a ActuatorSpec) map[string]any {
	f := map[string]any{
		FieldName:          a.ID,
		FieldStatus:        string(a.CurrentStatus),
		FieldDeviceStatus:  string(a.LastKnownDeviceStatus),
		FieldPinNum:        a.ControlPin,
		FieldIndex:         a.Index,
		FieldSetpoint:      a.Setpoint,
		FieldUpperLimit:    a.UpperLimit,
		FieldLowerLimit:    a.LowerLimit,
		FieldThresholdUnit: string(a.ThresholdUnit),
		FieldUpdatedAt:     a.UpdatedAt,
	}
	if a.OvershootMargin != nil {
		f[FieldOvershoot] = *a.OvershootMargin
	}
	switch a.Kind {
	case ActuatorHeater:
		f[FieldTSensorName] = a.BoundSensorID
		if a.MaxAllowedValue != nil {
			f[FieldMaxTemp] = *a.MaxAllowedValue
		} else {
			f[FieldMaxTemp] = nil
		}
	case ActuatorPump:
		f[FieldPSensorName] = a.BoundSensorID
		f[FieldGallons] = a.DerivedValue
		f[FieldSlope] = a.Calibration.Slope
		f[FieldIntercept] = a.Calibration.Intercept
	}
	return f
}

// Get reads one field of one entity.
//
// Returns ErrNotFound for an unknown (category, id) and ErrUnknownField for
// a field the entity does not expose.
func (s *Store) Get(cat Category, id, field string) (any, error) {
	var fields map[string]any
	if cat.IsSensor() {
		r, err := s.Sensor(cat, id)
		if err != nil {
			return nil, err
		}
		fields = sensorFields(r)
	} else {
		a, err := s.Actuator(cat, id)
		if err != nil {
			return nil, err
		}
		fields = actuatorFields(a)
	}
	v, ok := fields[field]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s has no field %q", ErrUnknownField, cat, id, field)
	}
	return v, nil
}

// Snapshot returns every entity of a category as id -> field -> value.
func (s *Store) Snapshot(cat Category) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any)
	switch {
	case cat.IsSensor():
		for _, r := range s.Sensors(cat) {
			out[r.ID] = sensorFields(r)
		}
	case cat == CategoryHeaters || cat == CategoryPumps:
		for _, a := range s.Actuators(cat) {
			out[a.ID] = actuatorFields(a)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, cat)
	}
	return out, nil
}

// StateSnapshot is the whole store at one moment.
type StateSnapshot struct {
	TemperatureSensors map[string]map[string]any `json:"temperature_sensors"`
	PressureSensors    map[string]map[string]any `json:"pressure_sensors"`
	Heaters            map[string]map[string]any `json:"heaters"`
	Pumps              map[string]map[string]any `json:"pumps"`
	ElapsedProcessTime float64                   `json:"elapsed_process_time"`
	LastDeviceContact  *time.Time                `json:"last_device_contact,omitempty"`
	Stale              bool                      `json:"stale"`
}

// State snapshots all categories. staleAfter is the freshness threshold
// used for the Stale flag.
func (s *Store) State(staleAfter time.Duration) StateSnapshot {
	snap := StateSnapshot{
		ElapsedProcessTime: s.ElapsedProcessTime().Seconds(),
		Stale:              s.Stale(staleAfter),
	}
	if last := s.LastDeviceContact(); !last.IsZero() {
		snap.LastDeviceContact = &last
	}
	snap.TemperatureSensors, _ = s.Snapshot(CategoryTemperatureSensors)
	snap.PressureSensors, _ = s.Snapshot(CategoryPressureSensors)
	snap.Heaters, _ = s.Snapshot(CategoryHeaters)
	snap.Pumps, _ = s.Snapshot(CategoryPumps)
	return snap
}

// Set writes one field. See SetFields.
func (s *Store) Set(cat Category, id, field string, value any) ([]InvariantViolation, error) {
	return s.SetFields(cat, id, map[string]any{field: value})
}

// SetFields writes a group of fields to one entity atomically.
//
// Only the fields in WritableFields(cat) are accepted; status and other
// engine-owned fields return ErrReadOnlyField. Values may be numbers or
// numeric strings. If any field is rejected nothing is written.
//
// Limit edits that would break lower < upper, or leave the setpoint
// outside the band, are corrected rather than rejected. Each correction is
// logged and returned as an InvariantViolation.
func (s *Store) SetFields(cat Category, id string, fields map[string]any) ([]InvariantViolation, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields to set", ErrInvalidValue)
	}
	allowed, ok := writableFields[cat]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, cat)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		if !allowed[name] {
			if s.knownField(cat, name) {
				return nil, fmt.Errorf("%w: %s.%s", ErrReadOnlyField, cat, name)
			}
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, cat, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cat.IsSensor() {
		return nil, s.setSensorFieldsLocked(cat, id, names, fields)
	}
	return s.setActuatorFieldsLocked(cat, id, names, fields)
}

func (s *Store) knownField(cat Category, name string) bool {
	var probe map[string]any
	switch cat {
	case CategoryTemperatureSensors:
		probe = sensorFields(SensorReading{Kind: SensorTemperature})
	case CategoryPressureSensors:
		probe = sensorFields(SensorReading{Kind: SensorPressure})
	case CategoryHeaters:
		probe = actuatorFields(ActuatorSpec{Kind: ActuatorHeater})
	case CategoryPumps:
		probe = actuatorFields(ActuatorSpec{Kind: ActuatorPump})
	}
	_, ok := probe[name]
	return ok || name == FieldOvershoot
}

func (s *Store) setSensorFieldsLocked(cat Category, id string, names []string, fields map[string]any) error {
	r, ok := s.sensors[cat][id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, cat, id)
	}
	for _, name := range names {
		f, err := toFinite(name, fields[name])
		if err != nil {
			return err
		}
		switch name {
		case FieldSlope:
			r.Calibration.Slope = f
		case FieldIntercept:
			r.Calibration.Intercept = f
		}
	}
	// Re-derive pressure from the last voltage so the new calibration shows
	// immediately instead of after the next poll.
	if !r.UpdatedAt.IsZero() {
		r.Value = r.Calibration.Apply(r.Voltage)
	}
	s.sensors[cat][id] = r
	s.logger.Info("sensor calibration updated", "category", cat, "id", id,
		"slope", r.Calibration.Slope, "intercept", r.Calibration.Intercept)
	return nil
}

func (s *Store) setActuatorFieldsLocked(cat Category, id string, names []string, fields map[string]any) ([]InvariantViolation, error) {
	current, ok := s.actuators[cat][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, cat, id)
	}
	a := current.clone()

	var edit limitEdit
	for _, name := range names {
		raw := fields[name]
		switch name {
		case FieldTSensorName, FieldPSensorName:
			sensorID, err := cast.ToStringE(raw)
			if err != nil || sensorID == "" {
				return nil, fmt.Errorf("%w: %s must be a sensor name", ErrInvalidValue, name)
			}
			if _, ok := s.sensors[a.BoundCategory()][sensorID]; !ok {
				return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, a.BoundCategory(), sensorID)
			}
			a.BoundSensorID = sensorID
			continue
		}

		f, err := toFinite(name, raw)
		if err != nil {
			return nil, err
		}
		switch name {
		case FieldSetpoint:
			edit.setpoint = &f
		case FieldLowerLimit:
			edit.lower = &f
		case FieldUpperLimit:
			edit.upper = &f
		case FieldMaxTemp:
			a.MaxAllowedValue = &f
		case FieldSlope:
			a.Calibration.Slope = f
		case FieldIntercept:
			a.Calibration.Intercept = f
		}
	}

	violations := applyLimits(&a, edit, s.band)
	for i := range violations {
		violations[i].Category = cat
		violations[i].ID = id
		s.logger.Warn("limit edit corrected",
			"category", cat,
			"id", id,
			"field", violations[i].Field,
			"requested", violations[i].Requested,
			"applied", violations[i].Applied,
			"reason", violations[i].Reason,
		)
	}

	a.UpdatedAt = s.now()
	s.actuators[cat][id] = a
	return violations, nil
}

func toFinite(field string, raw any) (float64, error) {
	switch raw.(type) {
	case nil, bool:
		return 0, fmt.Errorf("%w: %s must be numeric", ErrInvalidValue, field)
	}
	f, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidValue, field, err)
	}
	if !isFinite(f) {
		return 0, fmt.Errorf("%w: %s must be finite", ErrInvalidValue, field)
	}
	return f, nil
}
