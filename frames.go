package main

import "encoding/json"

// Client → server frame events.
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventPing        = "ping"
)

// Server → client frame events.
const (
	EventConnectionEstablished = "connection_established"
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	EventMemberAdded           = "pusher_internal:member_added"
	EventMemberRemoved         = "pusher_internal:member_removed"
	EventPong                  = "pusher:pong"
	EventError                 = "pusher:error"
)

// pusher:error codes.
const (
	CodeBadFrame     = 4001
	CodeAuthFailed   = 4009
	CodeSlowConsumer = 4201
)

// inboundFrame is the envelope every client → server frame arrives in.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// subscribeData is the payload of a "subscribe" frame.
type subscribeData struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data"`
}

// unsubscribeData is the payload of an "unsubscribe" frame.
type unsubscribeData struct {
	Channel string `json:"channel"`
}

// presenceChannelData is channel_data parsed for a presence subscribe.
type presenceChannelData struct {
	UserID   string          `json:"user_id"`
	UserInfo json.RawMessage `json:"user_info"`
}

// outboundFrame is the envelope every server → client frame is marshaled as.
type outboundFrame struct {
	Event   string `json:"event"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data"`
}

func marshalFrame(event, channel string, data any) []byte {
	f := outboundFrame{Event: event, Channel: channel, Data: data}
	b, err := json.Marshal(f)
	if err != nil {
		// data is always one of our own structs/maps; a marshal failure here
		// would be a programmer error, not a runtime condition to recover from.
		panic(err)
	}
	return b
}

type connectionEstablishedData struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type errorFrameData struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type presenceSnapshot struct {
	IDs   []string                   `json:"ids"`
	Hash  map[string]json.RawMessage `json:"hash"`
	Count int                        `json:"count"`
}

type subscriptionSucceededData struct {
	Presence *presenceSnapshot `json:"presence,omitempty"`
}

type memberAddedData struct {
	UserID   string          `json:"user_id"`
	UserInfo json.RawMessage `json:"user_info,omitempty"`
}

type memberRemovedData struct {
	UserID string `json:"user_id"`
}
