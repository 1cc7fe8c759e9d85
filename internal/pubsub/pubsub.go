// Package pubsub defines the room channel transport: named many-to-many
// channels scoped to a room code, and one-to-one channels scoped to a user id,
// carried over a pluggable broker.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	roomPrefix = "room-"
	userPrefix = "user-"
)

// Envelope is one message on a channel. Sender is stamped by the transport,
// never taken from the payload.
type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sentAt"`
}

// NewEnvelope marshals payload into an envelope.
func NewEnvelope(channel, event, sender string, payload any, sentAt time.Time) (Envelope, error) {
	var raw json.RawMessage
	switch p := payload.(type) {
	case nil:
		raw = json.RawMessage(`{}`)
	case json.RawMessage:
		raw = p
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		raw = data
	}
	return Envelope{
		Channel: channel,
		Event:   event,
		Sender:  sender,
		Payload: raw,
		SentAt:  sentAt,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("decode %s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Event, err)
	}
	return nil
}

// RoomChannel returns the channel name for a room code.
func RoomChannel(code string) string {
	return roomPrefix + code
}

// UserChannel returns the channel name for a user id.
func UserChannel(userID string) string {
	return userPrefix + userID
}

// Kind classifies a channel name.
type Kind int

const (
	KindUnknown Kind = iota
	KindRoom
	KindUser
)

// ParseChannel splits a channel name into its kind and key.
func ParseChannel(name string) (Kind, string) {
	switch {
	case strings.HasPrefix(name, roomPrefix) && len(name) > len(roomPrefix):
		return KindRoom, strings.TrimPrefix(name, roomPrefix)
	case strings.HasPrefix(name, userPrefix) && len(name) > len(userPrefix):
		return KindUser, strings.TrimPrefix(name, userPrefix)
	default:
		return KindUnknown, ""
	}
}

// Subscription delivers envelopes published on one channel. Messages is
// closed after Close or when the broker drops the subscription.
type Subscription interface {
	Messages() <-chan Envelope
	Close() error
}

// Broker is the pub/sub fabric. Delivery is best-effort and includes the publisher's own messages.
type Broker interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// Handler receives every message delivered on an open channel.
// Calls for one channel are sequential.
type Handler func(Envelope)

// Channel is an open subscription a client can broadcast on.
type Channel interface {
	Name() string
	Broadcast(ctx context.Context, event string, payload any) error
	Close() error
}

// Transport is what the game coordinator needs from the realtime layer.
type Transport interface {
	// OpenRoomChannel subscribes to room-<code>. Reopening the same code
	// replaces the previous subscription.
	OpenRoomChannel(ctx context.Context, code string, onMessage Handler) (Channel, error)
	// OpenUserChannel subscribes to user-<id>.
	OpenUserChannel(ctx context.Context, userID string, onMessage Handler) (Channel, error)
	// SendPrivate publishes once on the target's user channel. There is no
	// guarantee the target is listening.
	SendPrivate(ctx context.Context, targetUserID, event string, payload any) error
	Close() error
}
