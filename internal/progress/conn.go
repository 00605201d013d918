package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the lifecycle position of one connection. A connection is only
// ever present in the registry while OPEN; leaving OPEN triggers immediate
// removal, so no zombie entries survive.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Socket is the write side of a persistent transport. *websocket.Conn
// satisfies it; tests substitute fakes.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Conn is one admitted viewer connection. Outbound messages flow through a
// buffered channel drained by a single writer goroutine, which keeps
// per-connection ordering and lets senders dispatch without blocking.
type Conn struct {
	ID        string
	SessionID string

	sock      Socket
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	lastSeen atomic.Int64 // unix nanos
	state    atomic.Int32
	drops    atomic.Int32 // consecutive refused sends
}

func newConn(sessionID string, sock Socket, sendBuffer int) *Conn {
	c := &Conn{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		sock:      sock,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	c.lastSeen.Store(time.Now().UnixNano())
	return c
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// LastSeenAt returns the time of the last inbound activity.
func (c *Conn) LastSeenAt() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// touch records inbound activity of any kind.
func (c *Conn) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// maxSendDrops is how many messages in a row a connection may refuse
// before it is considered saturated. A writer goroutine that merely has
// not been scheduled yet clears the count on the next accepted message.
const maxSendDrops = 8

// enqueue hands a message to the writer without blocking. A full buffer
// drops the message; delivery is best effort.
func (c *Conn) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		c.drops.Store(0)
		return true
	default:
		c.drops.Add(1)
		return false
	}
}

// saturated reports whether the writer has refused enough consecutive
// messages that the connection is past recovering.
func (c *Conn) saturated() bool {
	return c.drops.Load() >= maxSendDrops
}

// writeLoop is the connection's single writer. A transport error reports
// the connection dead via onDead and exits.
func (c *Conn) writeLoop(onDead func(*Conn)) {
	for {
		select {
		case data := <-c.send:
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				onDead(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

// close tears down the transport exactly once.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		close(c.done)
		_ = c.sock.Close()
		c.state.Store(int32(StateClosed))
	})
}
