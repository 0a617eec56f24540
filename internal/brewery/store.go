package brewery

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Store.
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

// DefaultBand is the half-width placed around an edited setpoint when no
// band is configured.
const DefaultBand = 2.0

// Store is the shared sensor and actuator state.
//
// Entities live in four categories and are never removed during a run.
// Readers get copies; writers go through UpdateSensor, UpdateActuator or
// the external Set/SetFields path, each of which commits one entity
// atomically.
//
// Thread Safety:
//   - All methods are safe for concurrent use. A single RWMutex guards
//     every map, so a poll cycle and an API edit touching the same heater
//     are serialised rather than interleaved.
type Store struct {
	mu sync.RWMutex

	sensors   map[Category]map[string]SensorReading
	actuators map[Category]map[string]ActuatorSpec

	elapsed     time.Duration
	lastContact time.Time

	band   float64
	logger Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for correction warnings.
func WithLogger(l Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBand sets the half-width placed around an edited setpoint.
func WithBand(band float64) Option {
	return func(s *Store) {
		if band > 0 {
			s.band = band
		}
	}
}

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sensors: map[Category]map[string]SensorReading{
			CategoryTemperatureSensors: {},
			CategoryPressureSensors:    {},
		},
		actuators: map[Category]map[string]ActuatorSpec{
			CategoryHeaters: {},
			CategoryPumps:   {},
		},
		band:   DefaultBand,
		logger: noopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Band returns the configured setpoint half-width.
func (s *Store) Band() float64 {
	return s.band
}

// AddSensor registers a sensor. The category must match the sensor kind
// and the ID must be unique within the category.
func (s *Store) AddSensor(cat Category, r SensorReading) error {
	if r.ID == "" {
		return fmt.Errorf("%w: sensor id is required", ErrInvalidValue)
	}
	switch {
	case cat == CategoryTemperatureSensors && r.Kind == SensorTemperature:
	case cat == CategoryPressureSensors && r.Kind == SensorPressure:
	default:
		return fmt.Errorf("%w: sensor %q of kind %q cannot live in %s", ErrInvalidValue, r.ID, r.Kind, cat)
	}
	if !isFinite(r.Value) {
		return fmt.Errorf("%w: sensor %q value is not finite", ErrInvalidValue, r.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sensors[cat][r.ID]; exists {
		return fmt.Errorf("%w: %s/%s", ErrDuplicate, cat, r.ID)
	}
	s.sensors[cat][r.ID] = r
	return nil
}

// AddActuator registers a heater or pump.
//
// The control pin must not be used by any other actuator, the limits must
// be ordered, and a non-empty BoundSensorID must name an existing sensor.
func (s *Store) AddActuator(cat Category, a ActuatorSpec) error {
	if a.ID == "" {
		return fmt.Errorf("%w: actuator id is required", ErrInvalidValue)
	}
	switch {
	case cat == CategoryHeaters && a.Kind == ActuatorHeater:
	case cat == CategoryPumps && a.Kind == ActuatorPump:
	default:
		return fmt.Errorf("%w: actuator %q of kind %q cannot live in %s", ErrInvalidValue, a.ID, a.Kind, cat)
	}
	if err := validateLimits(a); err != nil {
		return fmt.Errorf("actuator %q: %w", a.ID, err)
	}
	if a.CurrentStatus == "" {
		a.CurrentStatus = StatusOff
	}
	if a.LastKnownDeviceStatus == "" {
		a.LastKnownDeviceStatus = StatusOff
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.actuators[cat][a.ID]; exists {
		return fmt.Errorf("%w: %s/%s", ErrDuplicate, cat, a.ID)
	}
	for _, m := range s.actuators {
		for _, other := range m {
			if other.ControlPin == a.ControlPin {
				return fmt.Errorf("%w: pin %d used by %q and %q", ErrDuplicate, a.ControlPin, other.ID, a.ID)
			}
		}
	}
	if a.BoundSensorID != "" {
		if _, ok := s.sensors[a.BoundCategory()][a.BoundSensorID]; !ok {
			return fmt.Errorf("%w: actuator %q bound to missing sensor %q", ErrNotFound, a.ID, a.BoundSensorID)
		}
	}
	s.actuators[cat][a.ID] = a.clone()
	return nil
}

// Sensor returns a copy of one sensor.
func (s *Store) Sensor(cat Category, id string) (SensorReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.sensors[cat]
	if !ok {
		return SensorReading{}, fmt.Errorf("%w: %q is not a sensor category", ErrUnknownCategory, cat)
	}
	r, ok := m[id]
	if !ok {
		return SensorReading{}, fmt.Errorf("%w: %s/%s", ErrNotFound, cat, id)
	}
	return r, nil
}

// Actuator returns a copy of one actuator.
func (s *Store) Actuator(cat Category, id string) (ActuatorSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.actuators[cat]
	if !ok {
		return ActuatorSpec{}, fmt.Errorf("%w: %q is not an actuator category", ErrUnknownCategory, cat)
	}
	a, ok := m[id]
	if !ok {
		return ActuatorSpec{}, fmt.Errorf("%w: %s/%s", ErrNotFound, cat, id)
	}
	return a.clone(), nil
}

// Sensors returns copies of every sensor in a category, sorted by ID.
func (s *Store) Sensors(cat Category) []SensorReading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SensorReading, 0, len(s.sensors[cat]))
	for _, r := range s.sensors[cat] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Actuators returns copies of every actuator in a category, sorted by ID.
func (s *Store) Actuators(cat Category) []ActuatorSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actuatorsLocked(cat)
}

func (s *Store) actuatorsLocked(cat Category) []ActuatorSpec {
	out := make([]ActuatorSpec, 0, len(s.actuators[cat]))
	for _, a := range s.actuators[cat] {
		out = append(out, a.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllActuators returns heaters followed by pumps, each sorted by ID.
func (s *Store) AllActuators() []ActuatorSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(s.actuatorsLocked(CategoryHeaters), s.actuatorsLocked(CategoryPumps)...)
}

// TemperatureSensorBySerial finds a temperature probe by 1-Wire serial.
func (s *Store) TemperatureSensorBySerial(serial string) (SensorReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.sensors[CategoryTemperatureSensors] {
		if r.SourceAddress == serial {
			return r, nil
		}
	}
	return SensorReading{}, fmt.Errorf("%w: temperature sensor with serial %q", ErrNotFound, serial)
}

// PressureSensorByPin finds a pressure transducer by analog pin.
func (s *Store) PressureSensorByPin(pin int) (SensorReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.sensors[CategoryPressureSensors] {
		if r.Pin == pin {
			return r, nil
		}
	}
	return SensorReading{}, fmt.Errorf("%w: pressure sensor on pin %d", ErrNotFound, pin)
}

// ActuatorByPin finds the heater or pump driven by a digital pin.
func (s *Store) ActuatorByPin(pin int) (Category, ActuatorSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for cat, m := range s.actuators {
		for _, a := range m {
			if a.ControlPin == pin {
				return cat, a.clone(), nil
			}
		}
	}
	return "", ActuatorSpec{}, fmt.Errorf("%w: actuator on pin %d", ErrNotFound, pin)
}

// HeaterByIndex finds a heater by its firmware slot.
func (s *Store) HeaterByIndex(index int) (ActuatorSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.actuators[CategoryHeaters] {
		if a.Index == index {
			return a.clone(), nil
		}
	}
	return ActuatorSpec{}, fmt.Errorf("%w: heater with index %d", ErrNotFound, index)
}

// UpdateSensor applies fn to a copy of the sensor and commits it if fn
// succeeds and the value is still finite. UpdatedAt is stamped on commit.
func (s *Store) UpdateSensor(cat Category, id string, fn func(*SensorReading) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.sensors[cat]
	if !ok {
		return fmt.Errorf("%w: %q is not a sensor category", ErrUnknownCategory, cat)
	}
	r, ok := m[id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, cat, id)
	}
	if err := fn(&r); err != nil {
		return err
	}
	if !isFinite(r.Value) || !isFinite(r.Voltage) {
		return fmt.Errorf("%w: %s/%s reading is not finite", ErrInvalidValue, cat, id)
	}
	r.ID = id
	r.UpdatedAt = s.now()
	m[id] = r
	return nil
}

// UpdateActuator applies fn to a copy of the actuator and commits it if fn
// succeeds and the limits are still ordered. Identity fields cannot be
// changed through fn.
func (s *Store) UpdateActuator(cat Category, id string, fn func(*ActuatorSpec) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.actuators[cat]
	if !ok {
		return fmt.Errorf("%w: %q is not an actuator category", ErrUnknownCategory, cat)
	}
	current, ok := m[id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, cat, id)
	}
	next := current.clone()
	if err := fn(&next); err != nil {
		return err
	}
	if err := validateLimits(next); err != nil {
		return fmt.Errorf("%s/%s: %w", cat, id, err)
	}
	next.ID, next.Kind, next.ControlPin, next.Index = current.ID, current.Kind, current.ControlPin, current.Index
	next.UpdatedAt = s.now()
	m[id] = next
	return nil
}

// SetElapsed records the elapsed process time.
func (s *Store) SetElapsed(d time.Duration) {
	s.mu.Lock()
	s.elapsed = d
	s.mu.Unlock()
}

// ElapsedProcessTime returns the elapsed process time.
func (s *Store) ElapsedProcessTime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.elapsed
}

// MarkDeviceContact records that a device line was applied at t.
func (s *Store) MarkDeviceContact(t time.Time) {
	s.mu.Lock()
	if t.After(s.lastContact) {
		s.lastContact = t
	}
	s.mu.Unlock()
}

// LastDeviceContact returns when a device line was last applied.
// The zero time means never.
func (s *Store) LastDeviceContact() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastContact
}

// Stale reports whether no device line has been applied within threshold.
// A store that has never heard from the device is stale.
func (s *Store) Stale(threshold time.Duration) bool {
	s.mu.RLock()
	last := s.lastContact
	s.mu.RUnlock()

	if last.IsZero() {
		return true
	}
	return s.now().Sub(last) > threshold
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
