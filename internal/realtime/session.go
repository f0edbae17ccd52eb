package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	realtimeTypes "github.com/clawdesk/clawdesk/pkg/realtime"
)

const (
	outboundBufferSize = 64
	writeTimeout       = 10 * time.Second
)

// wsSession pairs one websocket with its buffered outbound queue. Topic
// bookkeeping lives in the Hub; the session only moves envelopes.
type wsSession struct {
	conn *websocket.Conn
	out  chan realtimeTypes.ServerEnvelope
	once sync.Once
}

func newWSSession(conn *websocket.Conn) *wsSession {
	return &wsSession{
		conn: conn,
		out:  make(chan realtimeTypes.ServerEnvelope, outboundBufferSize),
	}
}

// queue enqueues without blocking; false means the session is too slow.
func (s *wsSession) queue(env realtimeTypes.ServerEnvelope) bool {
	select {
	case s.out <- env:
		return true
	default:
		return false
	}
}

func (s *wsSession) writeLoop() {
	for env := range s.out {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteJSON(env); err != nil {
			return
		}
	}
}

func (s *wsSession) shutdown() {
	s.once.Do(func() {
		_ = s.conn.Close()
		close(s.out)
	})
}
