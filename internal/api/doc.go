// Package api implements the HTTP REST API and WebSocket server for LumiSync Core.
//
// This package provides:
//   - REST endpoints for device management, manual control and sync sessions
//   - WebSocket hub relaying registry and session events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server is a thin layer over control.Service. Handlers decode the
// request, call one service operation and map its sentinel errors to HTTP
// status codes. Registry and session events reach WebSocket clients through
// the Hub, which fans them out by channel name ("device.online",
// "session.stopped", ...).
//
// # Security
//
// The API is meant for the local network only and carries no
// authentication. Bind it to a trusted interface.
package api
