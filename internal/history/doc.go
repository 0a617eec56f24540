// Package history stores actuator events in SQLite: every switch the
// control engine makes and every operator edit to an actuator's limits.
//
// The API serves them at /api/v1/actuators/{id}/history, newest first.
package history
