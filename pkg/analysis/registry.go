package analysis

import (
	"fmt"
	"sort"
)

// Reserved signal names interpreted by the dispatcher itself.
// All other signal names are opaque strings defined by individual analyses.
const (
	// SignalConnect is dispatched when a connection subscribes to an
	// analysis. It is also the session creation trigger.
	SignalConnect = "connect"

	// SignalDisconnect is dispatched when a connection unsubscribes from
	// an analysis or closes. It triggers session teardown.
	SignalDisconnect = "disconnect"

	// SignalError carries a sanitized failure notice back to the
	// originating connection when a handler panics.
	SignalError = "error"
)

// Emitter is the only capability a handler receives besides its payload.
// Emit sends a named event back to the connection that triggered the
// handler. It never fails from the handler's point of view: emits to a
// closed connection are silently discarded.
type Emitter interface {
	Emit(signal string, payload any)
}

// Handler processes one inbound signal. Its only observable effect is
// calling Emit zero or more times and eventually returning.
type Handler func(e Emitter, payload map[string]any)

// Registry maps signal names to ordered handler sequences for one
// analysis. It is built during startup and sealed before the server
// accepts connections; dispatch reads are unsynchronized thereafter.
type Registry struct {
	name     string
	handlers map[string][]Handler
	sealed   bool
}

// NewRegistry creates an empty registry for the named analysis.
func NewRegistry(name string) *Registry {
	return &Registry{
		name:     name,
		handlers: make(map[string][]Handler),
	}
}

// Name returns the analysis name this registry belongs to.
func (r *Registry) Name() string {
	return r.name
}

// On appends a handler to the ordered sequence for the given signal.
// Registration after Seal is a programming error and is rejected.
func (r *Registry) On(signal string, h Handler) error {
	if r.sealed {
		return fmt.Errorf("analysis %q: %w", r.name, ErrSealed)
	}
	if signal == "" {
		return fmt.Errorf("analysis %q: %w", r.name, ErrEmptySignal)
	}
	if h == nil {
		return fmt.Errorf("analysis %q: signal %q: %w", r.name, signal, ErrNilHandler)
	}
	r.handlers[signal] = append(r.handlers[signal], h)
	return nil
}

// Seal freezes the registry. Idempotent.
func (r *Registry) Seal() {
	r.sealed = true
}

// Sealed reports whether the registry has been sealed.
func (r *Registry) Sealed() bool {
	return r.sealed
}

// Dispatch invokes every handler registered for the signal, in
// registration order, passing the emitter and payload. It returns the
// number of handlers invoked; a signal with no handlers is a no-op and
// returns zero.
func (r *Registry) Dispatch(signal string, e Emitter, payload map[string]any) int {
	hs := r.handlers[signal]
	for _, h := range hs {
		h(e, payload)
	}
	return len(hs)
}

// HandlerCount returns the number of handlers registered for a signal.
func (r *Registry) HandlerCount(signal string) int {
	return len(r.handlers[signal])
}

// Signals returns the sorted list of signal names with at least one
// registered handler.
func (r *Registry) Signals() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
