package server

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// SessionState tracks the lifecycle of a session.
type SessionState int32

const (
	// StateCreated is the initial state, before any handler has run.
	StateCreated SessionState = iota

	// StateRunning means at least one handler invocation is in flight.
	StateRunning

	// StateCompleted means the last handler returned normally.
	StateCompleted

	// StateFailed means a handler panicked. Sticky until the session is
	// abandoned.
	StateFailed

	// StateAbandoned means the owning connection closed while a handler
	// was still running. The handler keeps running; its emits are
	// discarded.
	StateAbandoned
)

// String returns the state name for logging.
func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Session is the live binding between one connection and one analysis.
// All events emitted by that analysis's handlers for that connection flow
// through it. Created lazily on the first inbound signal for the pair and
// closed when the connection goes away.
//
// Emit is safe for concurrent use; a handler may fan work out across
// several goroutines and emit from all of them.
type Session struct {
	// ConnID identifies the owning connection. Opaque.
	ConnID string

	// Analysis is the name of the bound analysis.
	Analysis string

	// CreatedAt is when the session was created.
	CreatedAt time.Time

	mu        sync.RWMutex // guards transport
	transport Transport

	closed   atomic.Bool
	state    atomic.Int32
	inflight atomic.Int32

	emits     atomic.Uint64
	discarded atomic.Uint64

	logger *slog.Logger
}

// newSession creates a session bound to the given transport.
func newSession(connID, analysisName string, t Transport, logger *slog.Logger) *Session {
	return &Session{
		ConnID:    connID,
		Analysis:  analysisName,
		CreatedAt: time.Now(),
		transport: t,
		logger:    logger.With("conn_id", connID, "analysis", analysisName),
	}
}

// Emit forwards a named event to the owning connection, tagged with the
// session's connection and analysis. It never reports failure to the
// caller: emits after the connection has closed, and transport-level send
// failures, are counted and discarded.
func (s *Session) Emit(signal string, payload any) {
	if s.closed.Load() {
		s.discarded.Add(1)
		return
	}

	s.mu.RLock()
	t := s.transport
	s.mu.RUnlock()

	if t == nil {
		s.discarded.Add(1)
		return
	}

	if err := t.Send(s.ConnID, s.Analysis, signal, payload); err != nil {
		s.discarded.Add(1)
		s.logger.Debug("emit discarded", "signal", signal, "error", err)
		return
	}
	s.emits.Add(1)
}

// Active reports whether the owning connection is still open. Handlers
// may poll this to stop early after a disconnect; nothing forces them to.
func (s *Session) Active() bool {
	return !s.closed.Load()
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// EmitCount returns the number of events delivered to the transport.
func (s *Session) EmitCount() uint64 {
	return s.emits.Load()
}

// DiscardedCount returns the number of emits swallowed after close or on
// transport failure.
func (s *Session) DiscardedCount() uint64 {
	return s.discarded.Load()
}

// beginInvocation marks a handler invocation in flight.
func (s *Session) beginInvocation() {
	s.inflight.Add(1)
	for {
		cur := s.state.Load()
		if SessionState(cur) == StateAbandoned {
			return
		}
		if s.state.CompareAndSwap(cur, int32(StateRunning)) {
			return
		}
	}
}

// endInvocation records the outcome of a handler invocation.
func (s *Session) endInvocation(failed bool) {
	n := s.inflight.Add(-1)
	if failed {
		s.state.CompareAndSwap(int32(StateRunning), int32(StateFailed))
		return
	}
	if n == 0 {
		s.state.CompareAndSwap(int32(StateRunning), int32(StateCompleted))
	}
}

// Close releases the session's transport reference and settles its final
// state. In-flight handlers are not interrupted; their subsequent emits
// are discarded. Idempotent.
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}

	s.mu.Lock()
	s.transport = nil
	s.mu.Unlock()

	if s.inflight.Load() > 0 {
		s.state.Store(int32(StateAbandoned))
	} else if st := s.State(); st == StateCreated || st == StateRunning {
		s.state.Store(int32(StateCompleted))
	}

	s.logger.Debug("session closed",
		"state", s.State().String(),
		"emits", s.emits.Load(),
		"discarded", s.discarded.Load())
}
