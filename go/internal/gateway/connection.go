package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the write side of a live client connection. *websocket.Conn
// satisfies it through wsTransport; tests substitute fakes.
type Transport interface {
	WriteJSON(v any) error
	Close() error
}

// ClientConnection is a registered live connection and its subscription set.
// It exists only while the transport is open.
type ClientConnection struct {
	ClientID    string
	ConnectedAt time.Time

	transport Transport
	// Serializes writes from fan-out and command acks; gorilla connections
	// allow at most one concurrent writer.
	writeMu sync.Mutex

	// eventTypes is owned by the Registry and guarded by its mutex.
	eventTypes map[string]struct{}
}

// Send writes one JSON frame to the client. Safe for concurrent use.
func (c *ClientConnection) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.WriteJSON(v)
}

// Close tears down the underlying transport
func (c *ClientConnection) Close() error {
	return c.transport.Close()
}

// wsTransport adapts a gorilla connection, applying a write deadline per frame
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (t *wsTransport) WriteJSON(v any) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
