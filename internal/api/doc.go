// Package api implements the HTTP REST API and WebSocket server for the
// IED registry.
//
// This package provides:
//   - REST endpoints for device CRUD, connection transitions, protocol
//     configuration, datasets, snapshot export/import and the event log
//   - WebSocket hub streaming log entries and status changes
//   - JWT authentication with role-based permissions
//   - Middleware stack (request ID, logging, recovery, CORS, rate limiting,
//     Prometheus instrumentation)
//   - TLS support for production deployments
//
// # Error Mapping
//
// Registry errors are classified with errors.Is and returned as a
// structured body {"status", "code", "message"}:
//
//	ied.ErrValidation         400 validation_error
//	ied.ErrNotFound           404 not_found
//	ied.ErrInvalidTransition  409 invalid_transition
//	ied.ErrConflict           409 conflict
//
// # Graceful Degradation
//
// The server runs without MQTT or InfluxDB; /health reports them as
// unavailable and the registry keeps working.
package api
