package brewery

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestStore_GetFields(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		cat   Category
		id    string
		field string
		want  any
	}{
		{CategoryTemperatureSensors, "TSensor 1", FieldValue, 32.0},
		{CategoryTemperatureSensors, "TSensor 1", FieldSerialNum, "28FFAC378217045A"},
		{CategoryPressureSensors, "PSensor 1", FieldPinNum, 0},
		{CategoryPressureSensors, "PSensor 1", FieldSlope, 0.3215},
		{CategoryHeaters, "Heater 1", FieldStatus, "OFF"},
		{CategoryHeaters, "Heater 1", FieldUpperLimit, 34.0},
		{CategoryHeaters, "Heater 1", FieldMaxTemp, 212.0},
		{CategoryHeaters, "Heater 2", FieldTSensorName, "TSensor 2"},
		{CategoryPumps, "Pump 1", FieldPSensorName, "PSensor 1"},
		{CategoryPumps, "Pump 1", FieldGallons, 0.0},
	}

	for _, tt := range tests {
		t.Run(string(tt.cat)+"/"+tt.field, func(t *testing.T) {
			got, err := store.Get(tt.cat, tt.id, tt.field)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Get() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestStore_GetErrors(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Get(CategoryHeaters, "Heater 9", FieldStatus); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(CategoryHeaters, "Heater 1", "colour"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("unknown field error = %v, want ErrUnknownField", err)
	}
	if _, err := store.Get(Category("valves"), "V1", FieldStatus); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("unknown category error = %v, want ErrUnknownCategory", err)
	}
}

func TestStore_SetRejectsReadOnlyAndUnknown(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		name    string
		cat     Category
		field   string
		value   any
		wantErr error
	}{
		{"status is engine owned", CategoryHeaters, FieldStatus, "ON", ErrReadOnlyField},
		{"pin is fixed", CategoryHeaters, FieldPinNum, 7, ErrReadOnlyField},
		{"gallons is derived", CategoryPumps, FieldGallons, 3.0, ErrReadOnlyField},
		{"temperature value is device owned", CategoryTemperatureSensors, FieldValue, 100.0, ErrReadOnlyField},
		{"no such field", CategoryHeaters, "colour", "red", ErrUnknownField},
		{"pump has no maxtemp", CategoryPumps, FieldMaxTemp, 20.0, ErrUnknownField},
		{"non numeric", CategoryHeaters, FieldSetpoint, "warm", ErrInvalidValue},
		{"nan", CategoryHeaters, FieldSetpoint, math.NaN(), ErrInvalidValue},
		{"bool", CategoryHeaters, FieldSetpoint, true, ErrInvalidValue},
		{"missing sensor", CategoryHeaters, FieldTSensorName, "TSensor 9", ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := "Heater 1"
			switch tt.cat {
			case CategoryPumps:
				id = "Pump 1"
			case CategoryTemperatureSensors:
				id = "TSensor 1"
			}
			before, _ := store.Snapshot(tt.cat)

			_, err := store.Set(tt.cat, id, tt.field, tt.value)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Set() error = %v, want %v", err, tt.wantErr)
			}

			after, _ := store.Snapshot(tt.cat)
			if diff := cmp.Diff(before, after); diff != "" {
				t.Errorf("rejected write changed the store (-before +after):\n%s", diff)
			}
		})
	}
}

func TestStore_SetSetpointRecentresBand(t *testing.T) {
	store := newTestStore(t, WithBand(2))

	violations, err := store.Set(CategoryHeaters, "Heater 1", FieldSetpoint, "152")
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if len(violations) != 0 {
		t.Errorf("violations = %v, want none", violations)
	}

	h, _ := store.Actuator(CategoryHeaters, "Heater 1")
	if h.Setpoint != 152 || h.LowerLimit != 150 || h.UpperLimit != 154 {
		t.Errorf("band = %v <= %v <= %v, want 150 <= 152 <= 154", h.LowerLimit, h.Setpoint, h.UpperLimit)
	}
}

func TestStore_SetSetpointUsesOvershootMargin(t *testing.T) {
	store := NewStore()
	margin := 5.0
	if err := store.AddActuator(CategoryHeaters, ActuatorSpec{
		ID: "HLT", Kind: ActuatorHeater, ControlPin: 3,
		Setpoint: 150, LowerLimit: 148, UpperLimit: 152,
		OvershootMargin: &margin,
	}); err != nil {
		t.Fatalf("AddActuator() error = %v", err)
	}

	if _, err := store.Set(CategoryHeaters, "HLT", FieldSetpoint, 168); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	h, _ := store.Actuator(CategoryHeaters, "HLT")
	if h.LowerLimit != 166 || h.UpperLimit != 173 {
		t.Errorf("band = [%v, %v], want [166, 173]", h.LowerLimit, h.UpperLimit)
	}
}

func TestStore_SetFieldsIsAtomic(t *testing.T) {
	store := newTestStore(t)

	_, err := store.SetFields(CategoryHeaters, "Heater 1", map[string]any{
		FieldUpperLimit: 160.0,
		FieldStatus:     "ON",
	})
	if !errors.Is(err, ErrReadOnlyField) {
		t.Fatalf("SetFields() error = %v, want ErrReadOnlyField", err)
	}
	if v, _ := store.Get(CategoryHeaters, "Heater 1", FieldUpperLimit); v != 34.0 {
		t.Errorf("upper limit = %v, want unchanged 34", v)
	}

	if _, err := store.SetFields(CategoryHeaters, "Heater 1", map[string]any{
		FieldLowerLimit: 150,
		FieldUpperLimit: 155,
	}); err != nil {
		t.Fatalf("SetFields() error = %v", err)
	}
	h, _ := store.Actuator(CategoryHeaters, "Heater 1")
	if h.LowerLimit != 150 || h.UpperLimit != 155 || h.Setpoint != 150 {
		t.Errorf("heater = [%v, %v] sp %v, want [150, 155] sp 150", h.LowerLimit, h.UpperLimit, h.Setpoint)
	}
}

func TestStore_SetBinding(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Set(CategoryHeaters, "Heater 1", FieldTSensorName, "TSensor 2"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if v, _ := store.Get(CategoryHeaters, "Heater 1", FieldTSensorName); v != "TSensor 2" {
		t.Errorf("tsensor_name = %v, want TSensor 2", v)
	}
}

func TestStore_SetPressureCalibrationRederives(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateSensor(CategoryPressureSensors, "PSensor 1", func(r *SensorReading) error {
		r.Voltage = 2.0
		r.Value = r.Calibration.Apply(r.Voltage)
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateSensor() error = %v", err)
	}

	if _, err := store.SetFields(CategoryPressureSensors, "PSensor 1", map[string]any{
		FieldSlope:     "0.5",
		FieldIntercept: 0,
	}); err != nil {
		t.Fatalf("SetFields() error = %v", err)
	}

	if v, _ := store.Get(CategoryPressureSensors, "PSensor 1", FieldPressure); v != 1.0 {
		t.Errorf("pressure = %v, want 1.0 after recalibration", v)
	}
}

func TestStore_UpdateSensorRejectsNonFinite(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateSensor(CategoryTemperatureSensors, "TSensor 1", func(r *SensorReading) error {
		r.Value = math.Inf(1)
		return nil
	})
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("UpdateSensor() error = %v, want ErrInvalidValue", err)
	}
	if v, _ := store.Get(CategoryTemperatureSensors, "TSensor 1", FieldValue); v != 32.0 {
		t.Errorf("value = %v, want unchanged 32", v)
	}
}

func TestStore_UpdateActuatorKeepsIdentity(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateActuator(CategoryHeaters, "Heater 1", func(a *ActuatorSpec) error {
		a.CurrentStatus = StatusOn
		a.ControlPin = 99
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateActuator() error = %v", err)
	}

	h, _ := store.Actuator(CategoryHeaters, "Heater 1")
	if h.CurrentStatus != StatusOn {
		t.Errorf("status = %s, want ON", h.CurrentStatus)
	}
	if h.ControlPin != 13 {
		t.Errorf("pin = %d, want 13", h.ControlPin)
	}
	if !h.UpdatedAt.Equal(testEpoch) {
		t.Errorf("UpdatedAt = %v, want %v", h.UpdatedAt, testEpoch)
	}
}

func TestStore_ActuatorCopiesDoNotAlias(t *testing.T) {
	store := newTestStore(t)

	h, _ := store.Actuator(CategoryHeaters, "Heater 1")
	*h.MaxAllowedValue = 1

	again, _ := store.Actuator(CategoryHeaters, "Heater 1")
	if *again.MaxAllowedValue != 212 {
		t.Errorf("store max = %v after mutating a copy, want 212", *again.MaxAllowedValue)
	}
}

func TestStore_Lookups(t *testing.T) {
	store := newTestStore(t)

	cat, a, err := store.ActuatorByPin(4)
	if err != nil || cat != CategoryPumps || a.ID != "Pump 1" {
		t.Errorf("ActuatorByPin(4) = %s %q %v", cat, a.ID, err)
	}
	if _, _, err := store.ActuatorByPin(40); !errors.Is(err, ErrNotFound) {
		t.Errorf("ActuatorByPin(40) error = %v, want ErrNotFound", err)
	}
	if _, err := store.PressureSensorByPin(3); !errors.Is(err, ErrNotFound) {
		t.Errorf("PressureSensorByPin(3) error = %v, want ErrNotFound", err)
	}
	if _, err := store.TemperatureSensorBySerial("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("TemperatureSensorBySerial(nope) error = %v, want ErrNotFound", err)
	}

	all := store.AllActuators()
	var ids []string
	for _, a := range all {
		ids = append(ids, a.ID)
	}
	if diff := cmp.Diff([]string{"Heater 1", "Heater 2", "Pump 1"}, ids); diff != "" {
		t.Errorf("AllActuators() order (-want +got):\n%s", diff)
	}
}

func TestStore_Staleness(t *testing.T) {
	now := testEpoch
	store := NewStore(WithClock(func() time.Time { return now }))

	if !store.Stale(time.Second) {
		t.Error("store with no device contact should be stale")
	}

	store.MarkDeviceContact(now)
	if store.Stale(time.Second) {
		t.Error("store should be fresh right after contact")
	}

	now = now.Add(2 * time.Second)
	if !store.Stale(time.Second) {
		t.Error("store should be stale after threshold")
	}

	// Older contact times never move the marker backwards.
	store.MarkDeviceContact(testEpoch.Add(-time.Hour))
	if got := store.LastDeviceContact(); !got.Equal(testEpoch) {
		t.Errorf("LastDeviceContact() = %v, want %v", got, testEpoch)
	}
}

func TestStore_State(t *testing.T) {
	store := newTestStore(t)
	store.SetElapsed(90 * time.Second)

	state := store.State(time.Second)
	if state.ElapsedProcessTime != 90 {
		t.Errorf("ElapsedProcessTime = %v, want 90", state.ElapsedProcessTime)
	}
	if !state.Stale {
		t.Error("State().Stale = false before any device contact")
	}
	if state.LastDeviceContact != nil {
		t.Error("LastDeviceContact should be nil before any device contact")
	}
	if len(state.Heaters) != 2 || len(state.Pumps) != 1 {
		t.Errorf("State() heaters=%d pumps=%d", len(state.Heaters), len(state.Pumps))
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = store.Set(CategoryHeaters, "Heater 1", FieldSetpoint, float64(100+i+j))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h, err := store.Actuator(CategoryHeaters, "Heater 1")
				if err != nil {
					t.Error(err)
					return
				}
				if h.LowerLimit >= h.UpperLimit || h.Setpoint < h.LowerLimit || h.Setpoint > h.UpperLimit {
					t.Errorf("torn read: %v <= %v <= %v", h.LowerLimit, h.Setpoint, h.UpperLimit)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestParseCategoryAndStatus(t *testing.T) {
	if c, err := ParseCategory(" Heaters "); err != nil || c != CategoryHeaters {
		t.Errorf("ParseCategory(Heaters) = %q, %v", c, err)
	}
	if _, err := ParseCategory("valves"); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("ParseCategory(valves) error = %v", err)
	}

	for in, want := range map[string]Status{"1": StatusOn, "on": StatusOn, "0": StatusOff, "OFF": StatusOff} {
		if got, err := ParseStatus(in); err != nil || got != want {
			t.Errorf("ParseStatus(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseStatus("2"); err == nil {
		t.Error("ParseStatus(2) error = nil")
	}
}
