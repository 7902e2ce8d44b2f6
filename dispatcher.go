package main

import (
	"encoding/json"
)

// startDispatcher subscribes once to the bus wildcard subject and fans each
// envelope out to every local subscriber of its channel. One Bus.Subscribe
// callback runs per incoming message; the actual per-connection delivery is
// submitted to the worker pool so a burst of deliveries for a busy channel
// doesn't serialize behind the NATS client's single dispatch goroutine.
func (s *Server) startDispatcher() error {
	sub, err := s.bus.Subscribe(func(subject string, data []byte) {
		channel := channelFromSubject(subject)
		if channel == "" {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn().Str("subject", subject).Msg("dropping malformed bus envelope")
			return
		}

		frame := marshalFrame(env.Event, env.Channel, env.Data)
		subscribers := s.registry.Subscribers(channel)
		for _, c := range subscribers {
			conn := c
			if !s.workerPool.Submit(func() { s.enqueueWithSlowConsumerPolicy(conn, frame) }) {
				// worker pool queue full: apply the policy inline rather than
				// drop the frame silently.
				s.enqueueWithSlowConsumerPolicy(conn, frame)
			}
		}
	})
	if err != nil {
		return err
	}
	s.busSub = sub
	return nil
}

// enqueueWithSlowConsumerPolicy is the chokepoint for direct acks
// (handlers.go) and fan-out (above); the connection_established frame
// (upgrade.go) and the slow-consumer notice below bypass it. Three
// consecutive full-queue failures condemns the connection per spec.md §5 —
// the slow consumer is disconnected with code 4201 rather than let a backed
// up socket apply backpressure to the whole fan-out path.
func (s *Server) enqueueWithSlowConsumerPolicy(c *Connection, frame []byte) {
	if c.enqueue(frame) {
		return
	}
	if c.consecutiveSendFailures() >= 3 {
		s.logger.Warn().Str("socket_id", c.SocketID).Msg("slow consumer, disconnecting")
		s.killSlowConsumer(c)
	}
}

// killSlowConsumer best-effort notifies the client before tearing the
// connection down. The notification itself uses a direct non-blocking send
// since the queue is already known full — if it doesn't fit, the close frame
// writePump writes on observing c.closed (see connection.go's markClosed) is
// the only notice the client gets.
func (s *Server) killSlowConsumer(c *Connection) {
	select {
	case c.send <- marshalFrame(EventError, "", errorFrameData{Message: "slow consumer", Code: CodeSlowConsumer}):
	default:
	}
	metricSlowConsumersDisconnected.Inc()
	s.disconnectConnection(c, "slow_consumer")
}

func (s *Server) publishMemberAdded(channel, userID string, userInfo json.RawMessage) {
	s.publishEnvelope(channel, EventMemberAdded, memberAddedData{UserID: userID, UserInfo: userInfo})
}

func (s *Server) publishMemberRemoved(channel, userID string) {
	s.publishEnvelope(channel, EventMemberRemoved, memberRemovedData{UserID: userID})
}

func (s *Server) publishEnvelope(channel, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Error().Err(err).Str("channel", channel).Str("event", event).Msg("marshal envelope data")
		return
	}
	env := Envelope{Channel: channel, Event: event, Data: payload}
	body, err := json.Marshal(env)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal envelope")
		return
	}
	if err := s.bus.Publish(channel, body); err != nil {
		s.logger.Error().Err(err).Str("channel", channel).Msg("bus publish failed")
	}
}
