package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quiz-squad/internal/domain"
	"quiz-squad/internal/pubsub"
)

// RoomRegistry tracks how many relay subscriptions each room has.
type RoomRegistry interface {
	Acquire(ctx context.Context, code string) (int, error)
	Release(ctx context.Context, code string) (int, error)
	Live(ctx context.Context, code string) (int, error)
}

// RelayService contains the channel use cases behind the websocket relay.
type RelayService struct {
	broker pubsub.Broker
	rooms  RoomRegistry
	logger *slog.Logger
	now    func() time.Time
}

func NewRelayService(broker pubsub.Broker, rooms RoomRegistry, logger *slog.Logger) *RelayService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RelayService{
		broker: broker,
		rooms:  rooms,
		logger: logger,
		now:    time.Now,
	}
}

// Authorize reports whether who may subscribe to channel. Room channels are
// open to everyone; user channels only to their owner.
func (s *RelayService) Authorize(who domain.Identity, channel string) (pubsub.Kind, string, error) {
	kind, key := pubsub.ParseChannel(channel)
	switch kind {
	case pubsub.KindRoom:
		return kind, key, nil
	case pubsub.KindUser:
		if key != who.ID {
			return kind, key, domain.ErrForbiddenChannel
		}
		return kind, key, nil
	default:
		return kind, key, fmt.Errorf("%w: %q", domain.ErrForbiddenChannel, channel)
	}
}

// Subscribe opens channel for who. Closing the returned subscription also
// releases the room's live count.
func (s *RelayService) Subscribe(ctx context.Context, who domain.Identity, channel string) (pubsub.Subscription, error) {
	kind, key, err := s.Authorize(who, channel)
	if err != nil {
		return nil, err
	}
	sub, err := s.broker.Subscribe(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	if kind != pubsub.KindRoom {
		return sub, nil
	}

	if n, err := s.rooms.Acquire(ctx, key); err != nil {
		s.logger.Warn("room registry acquire failed", "room", key, "error", err)
	} else {
		s.logger.Debug("room subscriber added", "room", key, "live", n)
	}
	return &roomSubscription{Subscription: sub, release: func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.rooms.Release(ctx, key); err != nil {
			s.logger.Warn("room registry release failed", "room", key, "error", err)
		}
	}}, nil
}

// Publish sends payload on channel with who as the sender. Clients can never
// choose the sender themselves.
func (s *RelayService) Publish(ctx context.Context, who domain.Identity, channel, event string, payload json.RawMessage) error {
	if kind, _ := pubsub.ParseChannel(channel); kind == pubsub.KindUnknown {
		return fmt.Errorf("%w: %q", domain.ErrForbiddenChannel, channel)
	}
	if event == "" {
		return fmt.Errorf("publish on %s: empty event", channel)
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return fmt.Errorf("publish on %s: payload is not json", channel)
	}
	env, err := pubsub.NewEnvelope(channel, event, who.ID, payload, s.now())
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		env.Payload = json.RawMessage(`{}`)
	}
	return s.broker.Publish(ctx, env)
}

// RoomLive reports how many relay subscriptions a room currently has.
func (s *RelayService) RoomLive(ctx context.Context, code string) (int, error) {
	return s.rooms.Live(ctx, code)
}

type roomSubscription struct {
	pubsub.Subscription
	once    sync.Once
	release func()
}

func (r *roomSubscription) Close() error {
	err := r.Subscription.Close()
	r.once.Do(r.release)
	return err
}
