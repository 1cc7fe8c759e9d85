package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"quiz-squad/internal/domain"
	"quiz-squad/internal/pubsub"
)

const channelPrefix = "quizsquad:"

// Broker carries relay channels over Redis pub/sub so several relay
// instances can serve the same rooms.
type Broker struct {
	client *redis.Client
	logger *slog.Logger
	buffer int

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

func NewBroker(client *redis.Client, buffer int, logger *slog.Logger) *Broker {
	if buffer <= 0 {
		buffer = 32
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		client: client,
		logger: logger,
		buffer: buffer,
		subs:   make(map[*subscription]struct{}),
	}
}

func (b *Broker) Subscribe(ctx context.Context, channel string) (pubsub.Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, domain.ErrTransportClosed
	}
	b.mu.Unlock()

	ps := b.client.Subscribe(ctx, channelPrefix+channel)
	// wait for the confirmation so no publish after Subscribe returns is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	sub := &subscription{
		broker: b,
		ps:     ps,
		out:    make(chan pubsub.Envelope, b.buffer),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.run(b.logger.With("channel", channel))
	return sub, nil
}

func (b *Broker) Publish(ctx context.Context, env pubsub.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return b.client.Publish(ctx, channelPrefix+env.Channel, data).Err()
}

// Close drops every subscription. The Redis client is owned by the caller.
func (b *Broker) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[*subscription]struct{})
	b.mu.Unlock()

	for sub := range subs {
		_ = sub.Close()
	}
	return nil
}

type subscription struct {
	broker *Broker
	ps     *redis.PubSub
	out    chan pubsub.Envelope
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Messages() <-chan pubsub.Envelope {
	return s.out
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
	})
	return err
}

func (s *subscription) run(logger *slog.Logger) {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-s.ps.Channel():
			if !ok {
				return
			}
			var env pubsub.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn("dropping malformed envelope", "error", err)
				continue
			}
			select {
			case s.out <- env:
			case <-s.done:
				return
			default:
				// slow reader: drop the oldest pending envelope
				select {
				case <-s.out:
				default:
				}
				select {
				case s.out <- env:
				default:
				}
			}
		}
	}
}
