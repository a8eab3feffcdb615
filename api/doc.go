// Package api defines the wire types of the roundflow HTTP API.
//
// # API Overview
//
// roundflow exposes one resource, the conversation, under /api/v1:
//   - POST /api/v1/conversations/{id}/messages opens a round
//   - GET  /api/v1/conversations/{id}/state returns the derived view
//   - PUT  /api/v1/conversations/{id}/participants replaces the roster
//   - POST /api/v1/conversations/{id}/resume reconciles a returning client
//   - POST /api/v1/conversations/{id}/detach records that the client left
//   - POST /api/v1/conversations/{id}/rounds/{round}/synthesis/retry
//   - GET  /api/v1/conversations/{id}/events pushes views over WebSocket
//
// Health probes live at /health, /healthz, /ready and /version; Prometheus
// metrics are served on the separate metrics port.
//
// # Base URL
//
//	http://localhost:8080
package api
