// Package telemetry fans the store out to observers and funnels operator
// edits back in.
//
// On every tick the service snapshots the store and publishes it to MQTT
// (retained, whole store and per entity), InfluxDB (one point per entity)
// and WebSocket clients. Control transitions are queued by the engine,
// then recorded to history and published as events. Edits from the API or
// from MQTT command topics go through ApplyEdit so both paths validate,
// record and republish the same way.
//
// Every sink is optional. A nil sink is skipped.
package telemetry
