package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/databench/databench/pkg/protocol"
)

// generateConnID generates a cryptographically random connection ID.
func generateConnID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// Weak IDs are dangerous; fail loudly on entropy failure.
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}

// wsConn is one live WebSocket connection with its outbound write pump.
// gorilla/websocket permits a single concurrent writer, so all outbound
// frames funnel through the buffered send channel; the channel preserves
// emit order.
type wsConn struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// WebSocketTransport adapts gorilla/websocket connections onto the
// Transport interface and feeds inbound frames to the dispatcher. One
// read loop and one write pump run per connection; handler execution
// never happens on either.
type WebSocketTransport struct {
	upgrader   websocket.Upgrader
	dispatcher *Dispatcher
	config     *SessionConfig

	conns map[string]*wsConn
	mu    sync.RWMutex

	logger *slog.Logger
}

// NewWebSocketTransport creates the adapter and attaches it to the
// dispatcher's outbound side.
func NewWebSocketTransport(d *Dispatcher, config *ServerConfig, logger *slog.Logger) *WebSocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	config = config.withDefaults()

	t := &WebSocketTransport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		dispatcher: d,
		config:     config.SessionConfig,
		conns:      make(map[string]*wsConn),
		logger:     logger.With("component", "ws_transport"),
	}
	d.AttachTransport(t)
	return t
}

// ServeHTTP upgrades the request and runs the connection's loops.
func (t *WebSocketTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{
		id:   generateConnID(),
		conn: conn,
		send: make(chan []byte, t.config.SendBuffer),
	}

	t.mu.Lock()
	t.conns[c.id] = c
	t.mu.Unlock()

	t.logger.Info("connection opened", "conn_id", c.id, "remote", r.RemoteAddr)
	t.dispatcher.OnConnect(c.id)

	go t.writePump(c)
	go t.readLoop(c)
}

// Send delivers one outbound event to the named connection. A missing
// connection returns ErrConnectionClosed; a connection that cannot drain
// its buffer is disconnected and the frame dropped.
func (t *WebSocketTransport) Send(connID, analysisName, signal string, payload any) (err error) {
	t.mu.RLock()
	c := t.conns[connID]
	t.mu.RUnlock()

	if c == nil {
		return ErrConnectionClosed
	}

	var m map[string]any
	switch p := payload.(type) {
	case nil:
	case map[string]any:
		m = p
	default:
		m = map[string]any{"data": p}
	}

	data, err := protocol.EncodeFrame(&protocol.Frame{
		Analysis: analysisName,
		Signal:   signal,
		Payload:  m,
	})
	if err != nil {
		return err
	}

	defer func() {
		// send on a closed channel means the connection raced shut;
		// report it as closed rather than panicking the emitter.
		if r := recover(); r != nil {
			err = ErrConnectionClosed
		}
	}()

	select {
	case c.send <- data:
		return nil
	default:
		t.logger.Warn("client too slow, disconnecting", "conn_id", connID)
		t.drop(c)
		return ErrSendBufferFull
	}
}

// readLoop reads frames until the connection closes, forwarding each to
// the dispatcher. Malformed frames are logged and skipped.
func (t *WebSocketTransport) readLoop(c *wsConn) {
	defer t.drop(c)

	c.conn.SetReadLimit(t.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				t.logger.Error("read error", "conn_id", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))

		frame, err := protocol.DecodeFrame(msg)
		if err != nil {
			t.logger.Warn("frame decode error", "conn_id", c.id, "error", err)
			continue
		}

		t.dispatcher.OnMessage(c.id, frame.Analysis, frame.Signal, frame.Payload)
	}
}

// writePump drains the send channel and keeps the heartbeat going. It
// exits when the channel closes or a write fails.
func (t *WebSocketTransport) writePump(c *wsConn) {
	ticker := time.NewTicker(t.config.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drop unregisters a connection and tells the dispatcher. Idempotent.
func (t *WebSocketTransport) drop(c *wsConn) {
	t.mu.Lock()
	_, present := t.conns[c.id]
	delete(t.conns, c.id)
	t.mu.Unlock()

	c.close()

	if present {
		t.dispatcher.OnDisconnect(c.id)
		t.logger.Info("connection closed", "conn_id", c.id)
	}
}

// Count returns the number of open connections.
func (t *WebSocketTransport) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// CloseAll drops every open connection.
func (t *WebSocketTransport) CloseAll() {
	t.mu.RLock()
	conns := make([]*wsConn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.RUnlock()

	for _, c := range conns {
		t.drop(c)
	}
}
