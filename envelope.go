package main

import "encoding/json"

// Envelope is the {channel, event, data} tuple that traverses the bus and,
// wrapped in an outboundFrame, the socket wire.
type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// busSubject is the NATS subject a channel's envelopes publish and subscribe
// under. Subscribing to "channel.>" (busWildcard) captures every channel.
func busSubject(channel string) string {
	return "channel." + channel
}

const busWildcard = "channel.>"

// channelFromSubject strips the "channel." prefix a bus subject carries,
// recovering the channel name the dispatcher should look up in the registry.
func channelFromSubject(subject string) string {
	const prefix = "channel."
	if len(subject) <= len(prefix) || subject[:len(prefix)] != prefix {
		return ""
	}
	return subject[len(prefix):]
}
