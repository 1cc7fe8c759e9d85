package pubsub

import "encoding/json"

// Relay websocket frame types.
const (
	FrameSubscribe    = "subscribe"
	FrameUnsubscribe  = "unsubscribe"
	FramePublish      = "publish"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameMessage      = "message"
	FrameError        = "error"
)

// Frame is one websocket message between a client and the relay. Ref lets a
// client match a subscribed or error reply to its request.
type Frame struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message *Envelope       `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}
