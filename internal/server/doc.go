// Package server provides the HTTP surface of the reachboard dashboard.
//
// This package is internal to reachboard and handles all HTTP concerns:
//
//   - Dashboard pages: "/" and "/view-data" from the embedded assets
//   - Current round: "/status" in the legacy per-target JSON shape
//   - Persisted records: "/get-data"
//   - History: "/api/history/{name}"
//   - Cadence: "/api/interval" (GET and PUT)
//   - Live updates: "/api/ws" websocket stream of snapshots
//
// Handlers only read the latest published snapshot; no request ever triggers
// a probe. The server shuts down gracefully on context cancellation with a
// 5-second timeout for in-flight requests.
package server
