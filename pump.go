package main

import (
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const writeWait = 5 * time.Second

// readPump is the hot path: one goroutine per connection, reading frames
// until the socket closes, a protocol error demands it, or the activity
// timeout fires. Ping is purely client-initiated (spec.md §4.4) — there is
// no server-sent ping ticker here, unlike the teacher's writePump.
func (s *Server) readPump(c *Connection) {
	var reason string
	defer func() {
		if reason == "" {
			reason = "read_error"
		}
		s.disconnectConnection(c, reason)
	}()

	s.refreshActivityDeadline(c)

	for {
		msg, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			reason = "read_error"
			return
		}
		s.refreshActivityDeadline(c)

		switch op {
		case ws.OpClose:
			reason = "client_close"
			return
		case ws.OpPing, ws.OpPong:
			continue
		case ws.OpText:
			metricMessagesReceived.Inc()
			metricBytesReceived.Add(float64(len(msg)))

			if !c.inboundLimiter.Allow() {
				metricInboundRateLimited.Inc()
				s.logger.Debug().Str("socket_id", c.SocketID).Msg("inbound frame rate limited, dropping")
				continue
			}

			s.handleInboundFrame(c, msg)
		}
	}
}

func (s *Server) refreshActivityDeadline(c *Connection) {
	deadline := time.Now().Add(s.config.ActivityTimeout + s.config.ActivityGrace)
	c.conn.SetReadDeadline(deadline)
}

// writePump drains c.send to the socket. It never writes anything except
// what other goroutines enqueue — no unsolicited server pings. c.send is
// never closed (see connection.go's markClosed) — draining stops on c.closed
// instead, so a concurrent enqueue from the fan-out dispatcher can never race
// a channel close into a panic.
func (s *Server) writePump(c *Connection) {
	defer c.markClosed()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpText, frame); err != nil {
				s.logger.Debug().Str("socket_id", c.SocketID).Err(err).Msg("write failed")
				return
			}
			metricMessagesSent.Inc()
			metricBytesSent.Add(float64(len(frame)))
		case <-c.closed:
			// Teardown signaled (disconnect, shutdown, or slow-consumer kill);
			// any frames still sitting in c.send are lost, which spec.md §4.5
			// accepts for a disconnecting connection. Best-effort close frame.
			wsutil.WriteServerMessage(c.conn, ws.OpClose, []byte{})
			return
		}
	}
}
