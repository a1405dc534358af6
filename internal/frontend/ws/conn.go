// Package ws provides the websocket frontend of the sketch server: the
// acceptor that owns the HTTP listener, the connection wrapper, and the
// per-connection protocol state machine.
package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marvindv/group-sketch/internal/config"
	"github.com/marvindv/group-sketch/internal/protocol"
)

// Transport abstracts one client connection so the state machine can be
// tested without sockets.
type Transport interface {
	// ReadMessage blocks for the next inbound frame.
	ReadMessage() ([]byte, error)
	// WriteMessage writes one outbound frame.
	WriteMessage(data []byte) error
	// Ping sends a websocket ping control frame.
	Ping() error
	// CloseWithCode sends a close frame with the given status code and
	// reason, then closes the connection.
	CloseWithCode(code protocol.CloseCode, reason string)
	// Close closes the connection without a close frame exchange.
	Close()
}

// Conn wraps a gorilla websocket connection with the deadlines and close
// handshake the server uses.
type Conn struct {
	socket       *websocket.Conn
	writeTimeout time.Duration
	pongTimeout  time.Duration

	// mu serializes writes; gorilla connections support one concurrent writer.
	mu sync.Mutex
}

// NewConn wraps an upgraded websocket connection.
//
// Precondition: socket must be a freshly upgraded, open connection.
// Postcondition: Returns a Conn with read limits and pong handling installed.
func NewConn(socket *websocket.Conn, cfg config.WebsocketConfig) *Conn {
	socket.SetReadLimit(cfg.MaxMessageBytes)
	_ = socket.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})
	return &Conn{
		socket:       socket,
		writeTimeout: cfg.WriteTimeout,
		pongTimeout:  cfg.PongTimeout,
	}
}

// ReadMessage blocks for the next inbound frame.
//
// Postcondition: Returns the frame payload, or an error once the connection
// is closed or the read deadline expires.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.socket.ReadMessage()
	return data, err
}

// WriteMessage writes one text frame under the configured write deadline.
func (c *Conn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.socket.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.socket.WriteMessage(websocket.TextMessage, data)
}

// Ping sends a ping control frame.
func (c *Conn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.socket.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.socket.WriteMessage(websocket.PingMessage, nil)
}

// CloseWithCode sends a close frame carrying the application status code,
// then closes the underlying connection.
func (c *Conn) CloseWithCode(code protocol.CloseCode, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.socket.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	_ = c.socket.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(int(code), reason))
	_ = c.socket.Close()
}

// Close closes the connection without a close handshake.
func (c *Conn) Close() {
	_ = c.socket.Close()
}
