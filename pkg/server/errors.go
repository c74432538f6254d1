package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for common session and transport error conditions.
var (
	// ErrSessionClosed is returned when an operation is attempted on a
	// closed session.
	ErrSessionClosed = errors.New("server: session closed")

	// ErrConnectionClosed is returned when sending to a connection that is
	// no longer registered with the transport.
	ErrConnectionClosed = errors.New("server: connection closed")

	// ErrSendBufferFull is returned when a connection's outbound buffer is
	// full and a frame is dropped.
	ErrSendBufferFull = errors.New("server: send buffer full")

	// ErrMaxSessionsReached is returned when the session limit is hit.
	ErrMaxSessionsReached = errors.New("server: max sessions reached")

	// ErrNoTransport is returned when dispatching before a transport has
	// been attached.
	ErrNoTransport = errors.New("server: no transport attached")
)

// SessionError wraps an error with session context for debugging.
type SessionError struct {
	ConnID   string
	Analysis string
	Op       string // Operation that failed
	Err      error  // Underlying error
}

// Error returns the error message with session context.
func (e *SessionError) Error() string {
	return fmt.Sprintf("server: session %s/%s: %s: %v", e.ConnID, e.Analysis, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// HandlerError wraps a panic that occurred in a signal handler.
type HandlerError struct {
	ConnID   string
	Analysis string
	Signal   string
	Panic    any
	Stack    []byte
}

// Error returns the error message.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("server: handler panic in %s/%s for connection %s: %v",
		e.Analysis, e.Signal, e.ConnID, e.Panic)
}
