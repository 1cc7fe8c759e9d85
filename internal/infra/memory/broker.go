package memory

import (
	"context"
	"sync"

	"quiz-squad/internal/domain"
	"quiz-squad/internal/pubsub"
)

const defaultBuffer = 32

// Broker is an in-process pub/sub fabric. Slow subscribers lose their oldest
// pending message instead of blocking publishers.
type Broker struct {
	buffer int

	mu       sync.Mutex
	channels map[string]map[*subscription]struct{}
	closed   bool
}

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Broker{
		buffer:   buffer,
		channels: make(map[string]map[*subscription]struct{}),
	}
}

func (b *Broker) Subscribe(_ context.Context, channel string) (pubsub.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, domain.ErrTransportClosed
	}

	sub := &subscription{
		broker:  b,
		channel: channel,
		ch:      make(chan pubsub.Envelope, b.buffer),
	}
	subs, ok := b.channels[channel]
	if !ok {
		subs = make(map[*subscription]struct{})
		b.channels[channel] = subs
	}
	subs[sub] = struct{}{}
	return sub, nil
}

func (b *Broker) Publish(_ context.Context, env pubsub.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return domain.ErrTransportClosed
	}

	for sub := range b.channels[env.Channel] {
		select {
		case sub.ch <- env:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- env:
			default:
			}
		}
	}
	return nil
}

// Subscribers reports how many subscriptions a channel currently has.
func (b *Broker) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels[channel])
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for channel, subs := range b.channels {
		for sub := range subs {
			close(sub.ch)
		}
		delete(b.channels, channel)
	}
	return nil
}

type subscription struct {
	broker  *Broker
	channel string
	ch      chan pubsub.Envelope
}

func (s *subscription) Messages() <-chan pubsub.Envelope {
	return s.ch
}

func (s *subscription) Close() error {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.channels[s.channel]
	if !ok {
		return nil
	}
	if _, ok := subs[s]; !ok {
		return nil
	}
	delete(subs, s)
	close(s.ch)
	if len(subs) == 0 {
		delete(b.channels, s.channel)
	}
	return nil
}
