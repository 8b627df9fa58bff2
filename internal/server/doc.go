// Package server wires the HTTP surface: the WebSocket upgrade endpoint,
// per-connection receive loops, and the operational health endpoints.
package server
