package arduino

import (
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/nerrad567/ccbc-core/internal/brewery"
)

// handleLine decodes one device line, applies each record to the store and
// returns any configuration corrections to send back.
func (s *Session) handleLine(line string, now time.Time) [][]byte {
	s.stats.linesRx.Add(1)

	records, errs := DecodeFrames(line)
	for _, err := range errs {
		s.stats.parseErrors.Add(1)
		if errors.Is(err, ErrUnknownCategory) {
			s.logDebug("ignoring unknown record category", "line", line)
			continue
		}
		s.logWarn("discarding malformed line", "line", line, "error", err)
	}

	var out [][]byte
	for _, rec := range records {
		var (
			applied bool
			fixes   [][]byte
		)
		switch rec.Category {
		case CategoryTSensor:
			applied = s.processTempData(rec)
		case CategoryHeater:
			applied, fixes = s.processHeaterData(rec)
		case CategoryAnalogPin:
			applied = s.processPressureData(rec)
		case CategoryDigitalPin:
			applied = s.processDigitalPinData(rec)
		}
		if applied {
			s.store.MarkDeviceContact(now)
		}
		out = append(out, fixes...)
	}
	return out
}

// processTempData stores a probe temperature, matched by serial number.
func (s *Session) processTempData(rec Record) bool {
	serial, ok := rec.First("serial", "serial_num")
	if !ok {
		s.logDebug("temperature record without serial", "fields", rec.Fields)
		return false
	}
	sensor, err := s.store.TemperatureSensorBySerial(serial)
	if err != nil {
		s.stats.lookupMisses.Add(1)
		s.logDebug("no sensor for serial", "serial", serial)
		return false
	}

	// Only legacy lines (serial_num=...) carry the reading as "value".
	keys := []string{"cur_temp"}
	if _, legacy := rec.Get("serial_num"); legacy {
		keys = append(keys, "value")
	}
	temp, err := rec.Float(keys...)
	if err != nil {
		s.logWarn("unparseable temperature", "sensor", sensor.ID, "serial", serial, "error", err)
		return false
	}

	err = s.store.UpdateSensor(brewery.CategoryTemperatureSensors, sensor.ID, func(r *brewery.SensorReading) error {
		r.Value = temp
		return nil
	})
	if err != nil {
		s.logWarn("temperature update rejected", "sensor", sensor.ID, "error", err)
		return false
	}
	return true
}

// processPressureData converts an analog pin voltage to PSI with the
// sensor's calibration.
func (s *Session) processPressureData(rec Record) bool {
	pin, err := rec.Int("pin_num", "pin")
	if err != nil {
		s.logWarn("analog record without pin", "error", err)
		return false
	}
	sensor, err := s.store.PressureSensorByPin(pin)
	if err != nil {
		s.stats.lookupMisses.Add(1)
		s.logDebug("no pressure sensor on pin", "pin", pin)
		return false
	}

	voltage, err := rec.Float("value", "voltage")
	if err != nil {
		s.logWarn("unparseable voltage", "sensor", sensor.ID, "pin", pin, "error", err)
		return false
	}

	err = s.store.UpdateSensor(brewery.CategoryPressureSensors, sensor.ID, func(r *brewery.SensorReading) error {
		r.Voltage = voltage
		r.Value = r.Calibration.Apply(voltage)
		return nil
	})
	if err != nil {
		s.logWarn("pressure update rejected", "sensor", sensor.ID, "error", err)
		return false
	}
	return true
}

// processDigitalPinData records the device's echo of an output pin.
func (s *Session) processDigitalPinData(rec Record) bool {
	pin, err := rec.Int("pin_num", "pin")
	if err != nil {
		s.logWarn("digital record without pin", "error", err)
		return false
	}
	raw, ok := rec.First("value", "status")
	if !ok {
		s.logWarn("digital record without value", "pin", pin)
		return false
	}
	status, err := brewery.ParseStatus(raw)
	if err != nil {
		s.logWarn("unparseable pin status", "pin", pin, "value", raw)
		return false
	}

	cat, actuator, err := s.store.ActuatorByPin(pin)
	if err != nil {
		s.stats.lookupMisses.Add(1)
		s.logDebug("no actuator on pin", "pin", pin)
		return false
	}
	return s.recordEcho(cat, actuator.ID, status)
}

// processHeaterData matches a heater record by firmware index and returns
// the updates needed to bring the device's copy of the heater in line with
// the host's. The host is authoritative for name, limits, pin and probe.
//
// A status field is taken as a pin echo when the record's pin matches
// the host's, so firmware that never prints digitalpin lines still lets
// reconciliation converge.
func (s *Session) processHeaterData(rec Record) (bool, [][]byte) {
	index, err := rec.Int("index")
	if err != nil {
		s.logWarn("heater record without index", "error", err)
		return false, nil
	}
	heater, err := s.store.HeaterByIndex(index)
	if err != nil {
		s.stats.lookupMisses.Add(1)
		s.logDebug("no heater with index", "index", index)
		return false, nil
	}

	boundSerial := ""
	if heater.BoundSensorID != "" {
		if probe, err := s.store.Sensor(brewery.CategoryTemperatureSensors, heater.BoundSensorID); err == nil {
			boundSerial = probe.SourceAddress
		}
	}

	fixes := heaterCorrections(heater, boundSerial, rec)
	for _, fix := range fixes {
		s.logInfo("correcting device heater config", "heater", heater.ID, "command", string(fix))
	}

	if raw, ok := rec.Get("status"); ok {
		if pin, err := rec.Int("pin"); err == nil && pin == heater.ControlPin {
			if status, err := brewery.ParseStatus(raw); err == nil {
				s.recordEcho(brewery.CategoryHeaters, heater.ID, status)
			}
		}
	}
	return true, fixes
}

// heaterCorrections compares a device heater record against the host spec.
func heaterCorrections(h brewery.ActuatorSpec, boundSerial string, rec Record) [][]byte {
	var out [][]byte
	fix := func(field, value string) {
		out = append(out, EncodeFieldUpdate(CategoryHeater, h.Index, field, value))
	}

	if name, ok := rec.Get("name"); ok && name != h.ID {
		fix("new_name", h.ID)
	}
	if raw, ok := rec.Get("setpoint_high"); ok && numberDiffers(raw, h.UpperLimit) {
		fix("setpoint_high", FormatFloat(h.UpperLimit))
	}
	if raw, ok := rec.Get("setpoint_low"); ok && numberDiffers(raw, h.LowerLimit) {
		fix("setpoint_low", FormatFloat(h.LowerLimit))
	}
	if raw, ok := rec.Get("setpoint_max"); ok && h.MaxAllowedValue != nil && numberDiffers(raw, *h.MaxAllowedValue) {
		fix("setpoint_max", FormatFloat(*h.MaxAllowedValue))
	}
	if raw, ok := rec.Get("pin"); ok {
		if pin, err := strconv.Atoi(raw); err != nil || pin != h.ControlPin {
			fix("new_pin", strconv.Itoa(h.ControlPin))
		}
	}
	if addr, ok := rec.Get("tsensor_address"); ok && boundSerial != "" && addr != boundSerial {
		fix("tsensor_address", boundSerial)
	}
	return out
}

func numberDiffers(raw string, want float64) bool {
	got, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return true
	}
	return math.Abs(got-want) > floatTolerance
}

// recordEcho stores a confirmed device pin state.
func (s *Session) recordEcho(cat brewery.Category, id string, status brewery.Status) bool {
	err := s.store.UpdateActuator(cat, id, func(a *brewery.ActuatorSpec) error {
		a.LastKnownDeviceStatus = status
		return nil
	})
	if err != nil {
		s.logWarn("device echo rejected", "actuator", id, "error", err)
		return false
	}
	return true
}
