package main

import (
	"context"
	"encoding/json"
	"time"
)

// handleInboundFrame dispatches a single client → server frame per spec.md
// §4.4. Malformed JSON yields pusher:error 4001 and the frame is dropped; the
// connection stays open. Unknown events are ignored for forward-compat.
func (s *Server) handleInboundFrame(c *Connection, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.sendError(c, CodeBadFrame, "malformed frame")
		return
	}

	switch frame.Event {
	case EventSubscribe:
		s.handleSubscribe(c, frame.Data)
	case EventUnsubscribe:
		s.handleUnsubscribe(c, frame.Data)
	case EventPing:
		s.sendFrame(c, marshalFrame(EventPong, "", struct{}{}))
	default:
		// forward-compat: ignore silently
	}
}

func (s *Server) handleSubscribe(c *Connection, raw json.RawMessage) {
	var req subscribeData
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendError(c, CodeBadFrame, "malformed subscribe data")
		return
	}

	// Invariant 5: re-subscribe on an already-joined channel is a no-op that
	// still elicits a success acknowledgement.
	if s.registry.IsSubscribed(c, req.Channel) {
		s.sendFrame(c, marshalFrame(EventSubscriptionSucceeded, req.Channel, subscriptionSucceededData{}))
		return
	}

	channelType := classifyChannel(req.Channel)

	var presenceUserID string
	var presenceInfo json.RawMessage

	switch channelType {
	case ChannelPrivate:
		if err := verifyPrivateAuth(s.config.AppSecret, c.SocketID, req.Channel, req.Auth); err != nil {
			s.sendError(c, CodeAuthFailed, "auth failed")
			return
		}
	case ChannelPresence:
		if err := verifyPresenceAuth(s.config.AppSecret, c.SocketID, req.Channel, req.ChannelData, req.Auth); err != nil {
			s.sendError(c, CodeAuthFailed, "auth failed")
			return
		}

		var pd presenceChannelData
		if err := json.Unmarshal([]byte(req.ChannelData), &pd); err != nil || pd.UserID == "" {
			s.sendError(c, CodeAuthFailed, "malformed channel_data")
			return
		}
		presenceUserID = pd.UserID
		presenceInfo = pd.UserInfo
	}

	var snapshot []PresenceMember
	if channelType == ChannelPresence {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		result, err := s.presence.Join(ctx, req.Channel, presenceUserID, presenceInfo)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str("channel", req.Channel).Msg("presence join failed")
			s.sendError(c, CodeAuthFailed, "presence store unavailable")
			return
		}
		snapshot = result.Snapshot
		c.rememberPresenceJoin(req.Channel, presenceUserID)

		if result.Added {
			// Broadcast-then-ack ordering (spec.md §9 Design Notes): publish
			// member_added before the joining client's own ack. The joining
			// socket tolerates the redundant member_added it will see arrive
			// back over the bus — the snapshot below already contains it.
			metricPresenceJoins.Inc()
			s.publishMemberAdded(req.Channel, presenceUserID, presenceInfo)
		}
	}

	if s.registry.Subscribe(c, req.Channel) {
		metricSubscriptionsActive.Inc()
	}

	var ackData subscriptionSucceededData
	if channelType == ChannelPresence {
		ackData.Presence = buildPresenceSnapshot(snapshot)
	}
	s.sendFrame(c, marshalFrame(EventSubscriptionSucceeded, req.Channel, ackData))
}

func buildPresenceSnapshot(members []PresenceMember) *presenceSnapshot {
	ids := make([]string, 0, len(members))
	hash := make(map[string]json.RawMessage, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
		hash[m.UserID] = m.UserInfo
	}
	return &presenceSnapshot{IDs: ids, Hash: hash, Count: len(members)}
}

func (s *Server) handleUnsubscribe(c *Connection, raw json.RawMessage) {
	var req unsubscribeData
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendError(c, CodeBadFrame, "malformed unsubscribe data")
		return
	}
	s.unsubscribeChannel(c, req.Channel)
}

// unsubscribeChannel runs the full unsubscribe side-effect chain: registry
// removal, and for presence channels, PresenceStore.Leave plus a
// member_removed publish on the Removed transition. Idempotent: unsubscribing
// from an unknown channel never errors.
func (s *Server) unsubscribeChannel(c *Connection, channel string) {
	if s.registry.IsSubscribed(c, channel) {
		metricSubscriptionsActive.Dec()
	}
	s.registry.Unsubscribe(c, channel)

	if userID, ok := c.forgetPresenceJoin(channel); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		removed, err := s.presence.Leave(ctx, channel, userID)
		cancel()
		if err != nil {
			// Presence store failure during leave: logged, membership
			// best-effort removed locally; TTL eventually cleans the roster.
			s.logger.Warn().Err(err).Str("channel", channel).Msg("presence leave failed")
			return
		}
		if removed {
			metricPresenceLeaves.Inc()
			s.publishMemberRemoved(channel, userID)
		}
	}
}

func (s *Server) sendFrame(c *Connection, frame []byte) {
	s.enqueueWithSlowConsumerPolicy(c, frame)
}

func (s *Server) sendError(c *Connection, code int, message string) {
	s.sendFrame(c, marshalFrame(EventError, "", errorFrameData{Message: message, Code: code}))
}
