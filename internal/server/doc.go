// Package server implements the HTTP surface using the Echo framework.
//
// Routes: socket transport (/ws), control surface (/dispatch, /status),
// health and build info (/health/live, /health/ready, /version), Prometheus
// (/metrics). A connection gate in front of the upgrade enforces global,
// per-IP and rate limits; handlers split by concern: handlers_socket.go,
// handlers_control.go, handlers_health.go.
package server
