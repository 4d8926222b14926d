// Package realtime implements the push channel: the connection
// registry, the broadcast dispatcher and the inbound message handler.
package realtime

import (
	"sync"
	"time"
)

// Socket is the subset of the underlying WebSocket connection the
// registry writes to. *websocket.Conn satisfies it.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Gorilla's websocket.TextMessage constant, duplicated here so the
// Socket interface stays library-shaped without importing the package.
const textMessage = 1

// conn pairs a socket with its write lock. Gorilla connections support
// only one concurrent writer; every write goes through writeText. gen
// identifies the registration so a replaced connection's cleanup cannot
// tear down its successor.
type conn struct {
	mu   sync.Mutex
	sock Socket
	gen  uint64
}

func (c *conn) writeText(frame []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if timeout > 0 {
		_ = c.sock.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.sock.WriteMessage(textMessage, frame)
}

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.sock.Close()
}
