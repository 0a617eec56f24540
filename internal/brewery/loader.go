package brewery

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Defaults are the initial values for entities declared in an entities file.
type Defaults struct {
	HeaterSetpoint    float64
	HeaterMaxTemp     float64
	InitialTemp       float64
	PressureSlope     float64
	PressureIntercept float64
	GallonSlope       float64
	GallonIntercept   float64
	PumpUpperGallons  float64
	PumpLowerGallons  float64
}

// DefaultDefaults returns the values used by the stock brewery rig.
func DefaultDefaults() Defaults {
	return Defaults{
		HeaterSetpoint:    32.0,
		HeaterMaxTemp:     212.0,
		InitialTemp:       32.0,
		PressureSlope:     0.3215,
		PressureIntercept: -0.063,
		GallonSlope:       8.2759,
		GallonIntercept:   0.0,
		PumpUpperGallons:  14.0,
		PumpLowerGallons:  14.0 * 0.95,
	}
}

// LoadEntitiesFile opens path and loads it with LoadEntities.
func LoadEntitiesFile(path string, store *Store, d Defaults) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening entities file: %w", err)
	}
	defer f.Close()

	if err := LoadEntities(f, store, d); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// LoadEntities reads one entity per line into store:
//
//	# comment
//	TemperatureSensor,<name>,<serial>
//	PressureSensor,<name>,<analog pin>
//	Heater,<name>,<digital pin>[,<temperature sensor name>]
//	Pump,<name>,<digital pin>[,<pressure sensor name>]
//
// Heaters get firmware indexes in the order they appear. A pump without an
// explicit sensor is bound to the first pressure sensor declared. Sensors
// must be declared before the actuators that name them.
func LoadEntities(r io.Reader, store *Store, d Defaults) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	heaterIndex := 0
	firstPressure := ""

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) < 3 || parts[1] == "" {
			return fmt.Errorf("line %d: expected <Type>,<name>,<address>: %q", lineNo, line)
		}
		kind, name, addr := parts[0], parts[1], parts[2]
		bound := ""
		if len(parts) > 3 {
			bound = parts[3]
		}

		var err error
		switch kind {
		case "TemperatureSensor":
			err = store.AddSensor(CategoryTemperatureSensors, SensorReading{
				ID:            name,
				Kind:          SensorTemperature,
				Value:         d.InitialTemp,
				Unit:          UnitFahrenheit,
				SourceAddress: addr,
			})

		case "PressureSensor":
			var pin int
			if pin, err = strconv.Atoi(addr); err != nil {
				return fmt.Errorf("line %d: pressure sensor pin %q: %w", lineNo, addr, err)
			}
			err = store.AddSensor(CategoryPressureSensors, SensorReading{
				ID:   name,
				Kind: SensorPressure,
				Unit: UnitPSI,
				Pin:  pin,
				Calibration: Calibration{
					Slope:     d.PressureSlope,
					Intercept: d.PressureIntercept,
				},
			})
			if err == nil && firstPressure == "" {
				firstPressure = name
			}

		case "Heater":
			var pin int
			if pin, err = strconv.Atoi(addr); err != nil {
				return fmt.Errorf("line %d: heater pin %q: %w", lineNo, addr, err)
			}
			maxTemp := d.HeaterMaxTemp
			err = store.AddActuator(CategoryHeaters, ActuatorSpec{
				ID:              name,
				Kind:            ActuatorHeater,
				ControlPin:      pin,
				Index:           heaterIndex,
				BoundSensorID:   bound,
				Setpoint:        d.HeaterSetpoint,
				LowerLimit:      d.HeaterSetpoint - store.Band(),
				UpperLimit:      d.HeaterSetpoint + store.Band(),
				MaxAllowedValue: &maxTemp,
				ThresholdUnit:   UnitFahrenheit,
			})
			if err == nil {
				heaterIndex++
			}

		case "Pump":
			var pin int
			if pin, err = strconv.Atoi(addr); err != nil {
				return fmt.Errorf("line %d: pump pin %q: %w", lineNo, addr, err)
			}
			if bound == "" {
				bound = firstPressure
			}
			err = store.AddActuator(CategoryPumps, ActuatorSpec{
				ID:            name,
				Kind:          ActuatorPump,
				ControlPin:    pin,
				BoundSensorID: bound,
				Setpoint:      (d.PumpLowerGallons + d.PumpUpperGallons) / 2,
				LowerLimit:    d.PumpLowerGallons,
				UpperLimit:    d.PumpUpperGallons,
				ThresholdUnit: UnitGallons,
				Calibration: Calibration{
					Slope:     d.GallonSlope,
					Intercept: d.GallonIntercept,
				},
			})

		default:
			return fmt.Errorf("line %d: unknown entity type %q", lineNo, kind)
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading entities: %w", err)
	}
	return nil
}
