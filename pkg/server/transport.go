package server

// Transport is the bidirectional message bus the dispatch layer sits on.
// The core treats it as opaque: wire framing, handshakes, and heartbeats
// are the implementation's responsibility. Send delivers an outbound
// event to exactly the named connection.
//
// Implementations must be safe for concurrent Send calls and must
// preserve the order of Send calls made from a single goroutine to a
// single connection.
type Transport interface {
	Send(connID, analysisName, signal string, payload any) error
}
