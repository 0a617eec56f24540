// Package brewery holds the shared sensor and actuator state of the brew rig.
//
// The Store is the only shared mutable state in the process. The device
// session writes readings and device echoes into it, the control engine
// writes desired actuator status, and the API and MQTT command handlers
// edit setpoints and calibration. Nobody holds references into it; every
// read returns a copy and every write commits one entity under the store
// lock.
//
// # Categories
//
//	temperature_sensors  1-Wire probes keyed by serial number
//	pressure_sensors     analog transducers keyed by pin
//	heaters              digital outputs with temperature hysteresis
//	pumps                digital outputs with volume (gallons) hysteresis
//
// # Limit ordering
//
// Every actuator keeps lower <= setpoint <= upper and lower < upper. An edit
// that would break this is corrected and reported as an InvariantViolation
// instead of being rejected, so a panel slider dragged past the other bound
// still leaves the heater in a usable state.
package brewery
