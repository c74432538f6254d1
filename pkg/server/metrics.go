package server

import "time"

// ServerMetrics is a point-in-time snapshot of server state.
type ServerMetrics struct {
	// Sessions
	ActiveSessions int64
	TotalSessions  int64
	SessionCloses  int64
	PeakSessions   int64

	// Events
	EmitsDelivered uint64
	EmitsDiscarded uint64

	// Connections
	OpenConnections int64

	// Timestamp
	CollectedAt time.Time
}

// Metrics collects and returns server metrics.
func (s *Server) Metrics() *ServerMetrics {
	stats := s.sessions.Stats()

	return &ServerMetrics{
		ActiveSessions:  int64(stats.Active),
		TotalSessions:   int64(stats.TotalCreated),
		SessionCloses:   int64(stats.TotalClosed),
		PeakSessions:    int64(stats.Peak),
		EmitsDelivered:  stats.EmitsDelivered,
		EmitsDiscarded:  stats.EmitsDiscarded,
		OpenConnections: int64(s.transport.Count()),
		CollectedAt:     time.Now(),
	}
}
