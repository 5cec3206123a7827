// Package api implements the HTTP API of the ESPHome service.
//
// This package provides:
//   - Read-only REST endpoints over the configured entries: device info,
//     entity topology, current states and unresolved unique-id migrations
//   - The entity registry listing
//   - A WebSocket relay of the mirrored entity state topics
//   - The Prometheus /metrics endpoint
//   - Middleware stack (request ID, logging, recovery)
//
// # Routes
//
//	GET /api/v1/health
//	GET /api/v1/entries
//	GET /api/v1/entries/{id}
//	GET /api/v1/entries/{id}/device
//	GET /api/v1/entries/{id}/entities?type=sensor
//	GET /api/v1/entries/{id}/states?type=sensor
//	GET /api/v1/entries/{id}/migrations
//	GET /api/v1/registry?entry={id}
//	GET /api/v1/ws
//	GET /metrics
//
// # Graceful Degradation
//
// The server runs without MQTT; the WebSocket relay then carries no events.
package api
