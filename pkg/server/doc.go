// Package server implements the signal dispatch and session layer: the
// routing of inbound (connection, analysis, signal) messages to registered
// handlers, the per-connection sessions those handlers run in, and the
// delivery of emitted events back to exactly the connection that
// triggered them.
//
// The transport is abstracted behind the Transport interface; the
// WebSocket adapter in this package is one implementation. Handlers run
// on their own goroutines so long-running analyses never block the
// ingress path, and a handler panic is isolated to its own session.
package server
