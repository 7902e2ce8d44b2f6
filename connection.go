package main

import (
	"crypto/rand"
	"encoding/hex"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ConnectionState mirrors spec.md §4.4's state machine.
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateEstablished
	StateClosing
	StateClosed
)

// Connection is C4: one instance per socket. It owns the socket_id, the
// bounded outbound frame queue, and the set of channels it has joined (via
// the registry); domainID/domainName are attached by C8 at upgrade time.
type Connection struct {
	ID       int64  // process-local handle, assigned from an incrementing counter
	SocketID string // opaque 128-bit hex string, unique process-wide

	conn net.Conn

	state       atomic.Int32
	connectedAt time.Time

	DomainID   string
	DomainName string

	send chan []byte // bounded outbound queue; full queue triggers slow-consumer policy

	// closed signals teardown to writePump and to enqueue; it is closed
	// exactly once, together with the underlying socket, by markClosed.
	// c.send itself is never closed — concurrent enqueue from the fan-out
	// dispatcher must never risk a send-on-closed-channel panic, so shutdown
	// is signaled on this separate channel instead.
	closed chan struct{}

	inboundLimiter *rate.Limiter

	// presenceUserID tracks, per joined presence channel, the user_id this
	// connection joined with — needed to call PresenceStore.Leave on
	// unsubscribe/disconnect without the client having to resend it.
	presenceMu     sync.Mutex
	presenceUserID map[string]string

	closeOnce sync.Once

	sendFailures int32 // consecutive full-queue failures, for the slow-consumer policy
}

// newSocketID allocates an opaque 128-bit hex identifier, unique process-wide
// and, by construction (crypto/rand), unique across nodes with overwhelming
// probability.
func newSocketID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func NewConnection(conn net.Conn, id int64, socketID string, queueSize int, limiter *rate.Limiter) *Connection {
	c := &Connection{
		ID:             id,
		SocketID:       socketID,
		conn:           conn,
		connectedAt:    time.Now(),
		send:           make(chan []byte, queueSize),
		closed:         make(chan struct{}),
		inboundLimiter: limiter,
		presenceUserID: make(map[string]string),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *Connection) setState(s ConnectionState) {
	c.state.Store(int32(s))
}

// rememberPresenceJoin records the user_id this connection used to join a
// presence channel, so Unsubscribe/disconnect cleanup knows who to tell
// PresenceStore.Leave about without re-parsing channel_data.
func (c *Connection) rememberPresenceJoin(channel, userID string) {
	c.presenceMu.Lock()
	defer c.presenceMu.Unlock()
	c.presenceUserID[channel] = userID
}

func (c *Connection) forgetPresenceJoin(channel string) (userID string, ok bool) {
	c.presenceMu.Lock()
	defer c.presenceMu.Unlock()
	userID, ok = c.presenceUserID[channel]
	delete(c.presenceUserID, channel)
	return userID, ok
}

// enqueue is the dispatcher's non-blocking try-send. It never blocks the bus
// stream on a single slow connection; the caller is responsible for running
// the slow-consumer policy once failures accumulate. A connection that has
// already been torn down (markClosed run) rejects the frame rather than
// buffering it for nobody to read.
func (c *Connection) enqueue(frame []byte) (ok bool) {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- frame:
		atomic.StoreInt32(&c.sendFailures, 0)
		return true
	default:
		atomic.AddInt32(&c.sendFailures, 1)
		return false
	}
}

func (c *Connection) consecutiveSendFailures() int32 {
	return atomic.LoadInt32(&c.sendFailures)
}

// markClosed tears the connection down exactly once: it signals closed (so
// writePump's select and enqueue's guard both observe teardown) and closes
// the underlying socket. Safe to call from any of writePump's own exit,
// disconnectConnection, or a concurrent slow-consumer kill — whichever gets
// there first wins, the rest are no-ops.
func (c *Connection) markClosed() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}
