package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawdesk/clawdesk/internal/protocol"
)

// wsConn wraps a *websocket.Conn with mutex-guarded writes so the write
// loop and the heartbeat never interleave frames on the socket.
type wsConn struct {
	c      *websocket.Conn
	mu     sync.Mutex // guards writes
	closed bool
}

func newWSConn(c *websocket.Conn) *wsConn {
	c.SetReadLimit(4 * 1024 * 1024) // 4 MB
	return &wsConn{c: c}
}

// ReadMessage reads the next frame's raw bytes.
func (wc *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := wc.c.ReadMessage()
	return data, err
}

// SetReadDeadline bounds the next read. Zero clears the deadline.
func (wc *wsConn) SetReadDeadline(t time.Time) {
	_ = wc.c.SetReadDeadline(t)
}

// Send encodes frame and writes it as a text message.
func (wc *wsConn) Send(frame any) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	return wc.SendRaw(data)
}

// SendRaw writes pre-encoded frame bytes.
func (wc *wsConn) SendRaw(data []byte) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if wc.closed {
		return fmt.Errorf("ws connection closed")
	}
	return wc.c.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying connection. Safe to call more than once and
// from any goroutine; a blocked reader returns with an error.
func (wc *wsConn) Close() {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if !wc.closed {
		wc.closed = true
		_ = wc.c.Close()
	}
}
