// Package control implements the brewery's hysteresis control law.
//
// Each heater follows its bound temperature probe and each pump follows the
// gallons derived from its bound pressure sensor:
//
//	value > upper        -> OFF
//	value < lower        -> ON
//	lower <= value <= upper -> unchanged
//	value >= max         -> OFF (checked last, always wins)
//
// The engine only writes the desired status. Getting the device to match
// is the job of the arduino bridge's reconciler.
package control
