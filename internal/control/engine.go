package control

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/ccbc-core/internal/brewery"
)

// Logger defines the logging interface used by the engine.
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

// Transition is a change of an actuator's desired status.
type Transition struct {
	Category   brewery.Category `json:"category"`
	ActuatorID string           `json:"actuator_id"`
	From       brewery.Status   `json:"from"`
	To         brewery.Status   `json:"to"`

	// Value is the controlled quantity: F for heaters, gallons for pumps.
	Value  float64      `json:"value"`
	Unit   brewery.Unit `json:"unit"`
	Reason Reason       `json:"reason"`
	At     time.Time    `json:"at"`
}

// Options configures an Engine.
type Options struct {
	Logger Logger

	// OnTransition is called, outside any lock, for every status change.
	OnTransition func(Transition)
}

// Engine decides the desired status of every heater and pump.
//
// It reads sensors from the store and writes only CurrentStatus (and, for
// pumps, DerivedValue), each actuator through one UpdateActuator call so
// the decision uses the limits committed at that moment.
//
// Thread Safety: Evaluate is serialised; the engine can be driven inline
// by the session and by Run at the same time without double-deciding.
type Engine struct {
	store        *brewery.Store
	logger       Logger
	onTransition func(Transition)

	mu sync.Mutex
}

// NewEngine creates an engine over store.
func NewEngine(store *brewery.Store, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		store:        store,
		logger:       logger,
		onTransition: opts.OnTransition,
	}
}

// Evaluate runs one control pass and returns the transitions it made.
func (e *Engine) Evaluate(now time.Time) []Transition {
	e.mu.Lock()
	var transitions []Transition
	for _, h := range e.store.Actuators(brewery.CategoryHeaters) {
		if t, ok := e.evaluateHeater(h, now); ok {
			transitions = append(transitions, t)
		}
	}
	for _, p := range e.store.Actuators(brewery.CategoryPumps) {
		if t, ok := e.evaluatePump(p, now); ok {
			transitions = append(transitions, t)
		}
	}
	e.mu.Unlock()

	for _, t := range transitions {
		e.logger.Info("actuator switched",
			"category", t.Category, "actuator", t.ActuatorID,
			"from", t.From, "to", t.To, "value", t.Value, "reason", t.Reason)
		if e.onTransition != nil {
			e.onTransition(t)
		}
	}
	return transitions
}

// Tick adapts Evaluate to the session's inline control hook.
func (e *Engine) Tick(now time.Time) {
	e.Evaluate(now)
}

// Run evaluates on a fixed interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			e.Evaluate(now)
		}
	}
}

// evaluateHeater switches on the bound probe's temperature. A heater whose
// probe is missing is held OFF.
func (e *Engine) evaluateHeater(h brewery.ActuatorSpec, now time.Time) (Transition, bool) {
	temp, found := e.sensorValue(brewery.CategoryTemperatureSensors, h.BoundSensorID)

	return e.apply(brewery.CategoryHeaters, h.ID, now, func(a *brewery.ActuatorSpec) (float64, brewery.Status, Reason) {
		if !found {
			return 0, brewery.StatusOff, ReasonNoSensor
		}
		status, reason := DetermineStatus(temp, a.CurrentStatus, a.LowerLimit, a.UpperLimit, a.MaxAllowedValue)
		return temp, status, reason
	})
}

// evaluatePump converts the bound sensor's PSI to gallons, stores it and
// switches on gallons.
func (e *Engine) evaluatePump(p brewery.ActuatorSpec, now time.Time) (Transition, bool) {
	psi, found := e.sensorValue(brewery.CategoryPressureSensors, p.BoundSensorID)

	return e.apply(brewery.CategoryPumps, p.ID, now, func(a *brewery.ActuatorSpec) (float64, brewery.Status, Reason) {
		if !found {
			return a.DerivedValue, brewery.StatusOff, ReasonNoSensor
		}
		gallons := a.Calibration.Apply(psi)
		a.DerivedValue = gallons
		status, reason := DetermineStatus(gallons, a.CurrentStatus, a.LowerLimit, a.UpperLimit, a.MaxAllowedValue)
		return gallons, status, reason
	})
}

type decideFunc func(a *brewery.ActuatorSpec) (value float64, status brewery.Status, reason Reason)

func (e *Engine) apply(cat brewery.Category, id string, now time.Time, decide decideFunc) (Transition, bool) {
	var (
		t       Transition
		changed bool
	)
	err := e.store.UpdateActuator(cat, id, func(a *brewery.ActuatorSpec) error {
		value, status, reason := decide(a)
		if status != a.CurrentStatus {
			t = Transition{
				Category:   cat,
				ActuatorID: id,
				From:       a.CurrentStatus,
				To:         status,
				Value:      value,
				Unit:       a.ThresholdUnit,
				Reason:     reason,
				At:         now,
			}
			changed = true
			a.CurrentStatus = status
		}
		return nil
	})
	if err != nil {
		e.logger.Error("control update rejected", "category", cat, "actuator", id, "error", err)
		return Transition{}, false
	}
	return t, changed
}

func (e *Engine) sensorValue(cat brewery.Category, id string) (float64, bool) {
	if id == "" {
		return 0, false
	}
	r, err := e.store.Sensor(cat, id)
	if err != nil {
		e.logger.Warn("bound sensor missing", "category", cat, "sensor", id)
		return 0, false
	}
	return r.Value, true
}
