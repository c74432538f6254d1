package server

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// sessionKey identifies one (connection, analysis) pair.
type sessionKey struct {
	connID   string
	analysis string
}

// SessionManager owns the table of live sessions. It is mutated
// concurrently by connect, disconnect, and dispatch events and guards the
// table with an RWMutex. There is exactly one Session per (connection,
// analysis) pair; a single connection may hold sessions for several
// analyses at once.
type SessionManager struct {
	sessions map[sessionKey]*Session
	mu       sync.RWMutex

	maxSessions int

	totalCreated atomic.Uint64
	totalClosed  atomic.Uint64
	peakSessions int

	// Emit counters of already-closed sessions; live sessions are summed
	// at Stats time.
	closedEmits     atomic.Uint64
	closedDiscarded atomic.Uint64

	onCreate func(*Session)
	onClose  func(*Session)

	logger *slog.Logger
}

// NewSessionManager creates a SessionManager. maxSessions of 0 means no
// limit.
func NewSessionManager(maxSessions int, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		sessions:    make(map[sessionKey]*Session),
		maxSessions: maxSessions,
		logger:      logger.With("component", "session_manager"),
	}
}

// GetOrCreate returns the session for the pair, creating it on first use.
// The bool result reports whether a new session was created.
func (sm *SessionManager) GetOrCreate(connID, analysisName string, t Transport) (*Session, bool, error) {
	key := sessionKey{connID: connID, analysis: analysisName}

	sm.mu.RLock()
	s, ok := sm.sessions[key]
	sm.mu.RUnlock()
	if ok {
		return s, false, nil
	}

	sm.mu.Lock()
	if s, ok = sm.sessions[key]; ok {
		sm.mu.Unlock()
		return s, false, nil
	}
	if sm.maxSessions > 0 && len(sm.sessions) >= sm.maxSessions {
		sm.mu.Unlock()
		return nil, false, ErrMaxSessionsReached
	}

	s = newSession(connID, analysisName, t, sm.logger)
	sm.sessions[key] = s
	sm.totalCreated.Add(1)
	if len(sm.sessions) > sm.peakSessions {
		sm.peakSessions = len(sm.sessions)
	}
	onCreate := sm.onCreate
	sm.mu.Unlock()

	if onCreate != nil {
		onCreate(s)
	}

	sm.logger.Info("session created",
		"conn_id", connID,
		"analysis", analysisName,
		"active_sessions", sm.Count())

	return s, true, nil
}

// Get returns the session for the pair, or nil.
func (sm *SessionManager) Get(connID, analysisName string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[sessionKey{connID: connID, analysis: analysisName}]
}

// Close closes and removes the session for one (connection, analysis)
// pair. A no-op if the pair has no session.
func (sm *SessionManager) Close(connID, analysisName string) {
	key := sessionKey{connID: connID, analysis: analysisName}

	sm.mu.Lock()
	s, ok := sm.sessions[key]
	if ok {
		delete(sm.sessions, key)
	}
	onClose := sm.onClose
	sm.mu.Unlock()

	if !ok {
		return
	}

	sm.retire(s, onClose)
}

// retire closes one removed session and rolls its counters into the
// manager totals.
func (sm *SessionManager) retire(s *Session, onClose func(*Session)) {
	s.Close()
	sm.totalClosed.Add(1)
	sm.closedEmits.Add(s.EmitCount())
	sm.closedDiscarded.Add(s.DiscardedCount())
	if onClose != nil {
		onClose(s)
	}
}

// CloseConnection closes every session owned by a connection and returns
// how many were closed. In-flight handlers keep running; their emits are
// discarded from here on.
func (sm *SessionManager) CloseConnection(connID string) int {
	sm.mu.Lock()
	var closed []*Session
	for key, s := range sm.sessions {
		if key.connID == connID {
			delete(sm.sessions, key)
			closed = append(closed, s)
		}
	}
	onClose := sm.onClose
	sm.mu.Unlock()

	for _, s := range closed {
		sm.retire(s, onClose)
	}

	if len(closed) > 0 {
		sm.logger.Info("connection sessions closed",
			"conn_id", connID,
			"count", len(closed),
			"active_sessions", sm.Count())
	}
	return len(closed)
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// ForEach iterates over all sessions. The callback should not perform
// long-running operations as it holds the read lock.
func (sm *SessionManager) ForEach(fn func(*Session) bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for _, s := range sm.sessions {
		if !fn(s) {
			break
		}
	}
}

// SetOnSessionCreate sets the callback for session creation.
func (sm *SessionManager) SetOnSessionCreate(fn func(*Session)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onCreate = fn
}

// SetOnSessionClose sets the callback for session close.
func (sm *SessionManager) SetOnSessionClose(fn func(*Session)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onClose = fn
}

// Shutdown closes all sessions.
func (sm *SessionManager) Shutdown() {
	sm.mu.Lock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.sessions = make(map[sessionKey]*Session)
	onClose := sm.onClose
	sm.mu.Unlock()

	for _, s := range sessions {
		sm.retire(s, onClose)
	}

	sm.logger.Info("session manager shutdown", "closed_sessions", len(sessions))
}

// ManagerStats contains aggregated session manager statistics.
type ManagerStats struct {
	Active         int
	TotalCreated   uint64
	TotalClosed    uint64
	Peak           int
	EmitsDelivered uint64
	EmitsDiscarded uint64
}

// Stats returns aggregated session statistics. Emit totals cover closed
// sessions plus a point-in-time sum over live ones.
func (sm *SessionManager) Stats() ManagerStats {
	sm.mu.RLock()
	active := len(sm.sessions)
	peak := sm.peakSessions
	var liveEmits, liveDiscarded uint64
	for _, s := range sm.sessions {
		liveEmits += s.EmitCount()
		liveDiscarded += s.DiscardedCount()
	}
	sm.mu.RUnlock()

	return ManagerStats{
		Active:         active,
		TotalCreated:   sm.totalCreated.Load(),
		TotalClosed:    sm.totalClosed.Load(),
		Peak:           peak,
		EmitsDelivered: sm.closedEmits.Load() + liveEmits,
		EmitsDiscarded: sm.closedDiscarded.Load() + liveDiscarded,
	}
}
