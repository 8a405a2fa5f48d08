package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// CloseAuthFailure is sent when admission fails. Mirrors the websocket
// policy-violation close code.
const CloseAuthFailure = websocket.ClosePolicyViolation

// Conn is the registry's view of one attached client. Implementations must
// make SendJSON safe for concurrent use.
type Conn interface {
	SendJSON(v any) error
	Close(code int, reason string) error
}

// WSConn adapts a gorilla websocket connection. The underlying connection
// permits one concurrent writer, so all writes go through mu.
type WSConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func NewWSConn(ws *websocket.Conn) *WSConn {
	return &WSConn{ws: ws}
}

func (c *WSConn) SendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(v)
}

func (c *WSConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	c.ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.ws.WriteMessage(websocket.CloseMessage, msg)
	return c.ws.Close()
}

// ReadMessage blocks for the next client frame. Not part of Conn: only the
// handler's read loop consumes inbound frames. Decoding stays with the
// caller so a malformed frame does not kill the loop.
func (c *WSConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}
