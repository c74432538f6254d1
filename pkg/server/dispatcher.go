package server

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/databench/databench/pkg/analysis"
)

// Dispatcher routes inbound (connection, analysis, signal) messages to
// the correct registry and session, and schedules handler execution.
//
// The transport delivers inbound messages on its own read loops; the
// dispatcher never runs handlers there. Every matched signal is handed to
// a fresh goroutine so long-running handlers cannot starve other
// connections, while the handlers for one signal still run in
// registration order.
type Dispatcher struct {
	catalog  *analysis.Catalog
	sessions *SessionManager

	mu        sync.RWMutex // guards transport and invoke chain
	transport Transport
	mws       []Middleware
	invoke    InvokeFunc

	logger *slog.Logger
}

// NewDispatcher creates a dispatcher over the given catalog and session
// table. Attach a transport before delivering messages.
func NewDispatcher(catalog *analysis.Catalog, sessions *SessionManager, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		catalog:  catalog,
		sessions: sessions,
		logger:   logger.With("component", "dispatcher"),
	}
	d.invoke = d.baseInvoke
	return d
}

// AttachTransport binds the outbound side. Call once during startup,
// before the transport starts accepting connections.
func (d *Dispatcher) AttachTransport(t Transport) {
	d.mu.Lock()
	d.transport = t
	d.mu.Unlock()
}

// Use appends invocation middleware. The first middleware added is
// outermost. Call during startup only.
func (d *Dispatcher) Use(mws ...Middleware) {
	d.mu.Lock()
	d.mws = append(d.mws, mws...)
	chain := d.baseInvoke
	for i := len(d.mws) - 1; i >= 0; i-- {
		chain = d.mws[i](chain)
	}
	d.invoke = chain
	d.mu.Unlock()
}

// OnConnect is called by the transport when a connection opens. Sessions
// are created lazily on the first signal per analysis, so this only logs.
func (d *Dispatcher) OnConnect(connID string) {
	d.logger.Debug("connection opened", "conn_id", connID)
}

// OnDisconnect is called by the transport when a connection closes. It
// abandons every session owned by the connection; in-flight handlers are
// not interrupted.
func (d *Dispatcher) OnDisconnect(connID string) {
	d.sessions.CloseConnection(connID)
	d.logger.Debug("connection closed", "conn_id", connID)
}

// OnMessage routes one inbound message. Unknown analyses are logged and
// dropped; signals with no registered handler are a silent no-op. The
// reserved "connect" signal triggers session creation, and "disconnect"
// tears down the session for that one (connection, analysis) pair after
// any registered disconnect handlers have run.
func (d *Dispatcher) OnMessage(connID, analysisName, signal string, payload map[string]any) {
	d.mu.RLock()
	t := d.transport
	invoke := d.invoke
	d.mu.RUnlock()

	if t == nil {
		d.logger.Error("message before transport attached",
			"conn_id", connID, "analysis", analysisName, "signal", signal)
		return
	}

	a, err := d.catalog.Lookup(analysisName)
	if err != nil {
		// Unknown analysis names are logged and dropped; the connection
		// stays open.
		d.logger.Warn("unknown analysis",
			"conn_id", connID, "analysis", analysisName, "signal", signal)
		return
	}

	if signal == analysis.SignalDisconnect {
		d.teardown(connID, a, invoke, payload)
		return
	}

	s, _, err := d.sessions.GetOrCreate(connID, analysisName, t)
	if err != nil {
		d.logger.Warn("session create failed",
			"conn_id", connID, "analysis", analysisName, "error", err)
		return
	}

	n := a.Signals.HandlerCount(signal)
	if n == 0 {
		// A signal nobody listens for is ignored, not an error.
		d.logger.Debug("no handler for signal",
			"analysis", analysisName, "signal", signal)
		return
	}

	inv := &Invocation{
		ConnID:   connID,
		Analysis: analysisName,
		Signal:   signal,
		Payload:  payload,
		Session:  s,
		Handlers: n,
		registry: a.Signals,
	}
	go d.run(invoke, inv, nil)
}

// teardown handles the reserved disconnect signal for one pair: run any
// registered disconnect handlers, then close the session.
func (d *Dispatcher) teardown(connID string, a *analysis.Analysis, invoke InvokeFunc, payload map[string]any) {
	s := d.sessions.Get(connID, a.Name)
	if s == nil {
		return
	}
	if a.Signals.HandlerCount(analysis.SignalDisconnect) == 0 {
		d.sessions.Close(connID, a.Name)
		return
	}
	inv := &Invocation{
		ConnID:   connID,
		Analysis: a.Name,
		Signal:   analysis.SignalDisconnect,
		Payload:  payload,
		Session:  s,
		Handlers: a.Signals.HandlerCount(analysis.SignalDisconnect),
		registry: a.Signals,
	}
	go d.run(invoke, inv, func() {
		d.sessions.Close(connID, a.Name)
	})
}

// run executes one invocation on its own goroutine. A panicking handler
// transitions the session to failed and sends exactly one sanitized
// error event back to the originating connection; the failure never
// propagates beyond this session.
func (d *Dispatcher) run(invoke InvokeFunc, inv *Invocation, after func()) {
	inv.Session.beginInvocation()

	err := invoke(context.Background(), inv)
	if err != nil {
		inv.Session.endInvocation(true)
		d.logger.Error("handler failure",
			"conn_id", inv.ConnID,
			"analysis", inv.Analysis,
			"signal", inv.Signal,
			"error", err)
		inv.Session.Emit(analysis.SignalError, map[string]any{
			"analysis": inv.Analysis,
			"signal":   inv.Signal,
			"message":  fmt.Sprintf("handler for signal %q failed", inv.Signal),
		})
	} else {
		inv.Session.endInvocation(false)
	}

	if after != nil {
		after()
	}
}

// baseInvoke runs the registered handlers for the invocation's signal, in
// registration order, converting a panic into a HandlerError.
func (d *Dispatcher) baseInvoke(ctx context.Context, inv *Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{
				ConnID:   inv.ConnID,
				Analysis: inv.Analysis,
				Signal:   inv.Signal,
				Panic:    r,
				Stack:    debug.Stack(),
			}
		}
	}()

	inv.registry.Dispatch(inv.Signal, inv.Session, inv.Payload)
	return nil
}
