package server

import (
	"context"

	"github.com/databench/databench/pkg/analysis"
)

// Invocation describes one scheduled handler batch: all handlers
// registered for one signal, run in registration order on a single
// worker goroutine.
type Invocation struct {
	// ConnID is the originating connection.
	ConnID string

	// Analysis is the target analysis name.
	Analysis string

	// Signal is the inbound signal name.
	Signal string

	// Payload is the inbound payload, as decoded from the wire.
	Payload map[string]any

	// Session is the session the handlers run in.
	Session *Session

	// Handlers is the number of handlers that will be invoked.
	Handlers int

	// registry is the signal registry handlers are looked up in. Set by
	// the dispatcher; middleware never needs it.
	registry *analysis.Registry
}

// InvokeFunc executes an invocation. The dispatcher's base InvokeFunc
// runs the registered handlers; middleware wraps it.
type InvokeFunc func(ctx context.Context, inv *Invocation) error

// Middleware wraps handler invocation, in the order added: the first
// middleware is outermost. Used for metrics and tracing.
type Middleware func(next InvokeFunc) InvokeFunc
