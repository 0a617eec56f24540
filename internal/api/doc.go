// Package api implements the HTTP REST API and WebSocket server for CCBC Core.
//
// This package provides:
//   - Read endpoints for the whole store, a category or one entity
//   - PATCH for the writable field group of an entity
//   - Actuator history from the event database
//   - WebSocket hub pushing snapshots, transitions and edits
//   - Middleware stack (request ID, logging, recovery, CORS, JWT)
//
// # Routes
//
//	GET   /api/v1/health
//	GET   /api/v1/state
//	GET   /api/v1/{category}
//	GET   /api/v1/{category}/{id}[?field=name]
//	PATCH /api/v1/{category}/{id}
//	GET   /api/v1/actuators/{id}/history
//	GET   /api/v1/ws
//
// The API only touches the store. It never writes to the serial link;
// edits reach the device through the control engine and reconciler.
//
// # Security
//
// When security.jwt.secret is set, PATCH requires an HS256 bearer token.
// Reads stay open for dashboards on the brewery LAN.
package api
