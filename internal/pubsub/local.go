package pubsub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"quiz-squad/internal/domain"
)

// Local is a Transport for in-process clients talking straight to a Broker.
type Local struct {
	broker Broker
	sender string
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	channels map[string]*localChannel
	closed   bool
}

// NewLocal returns a transport that stamps every message with sender.
func NewLocal(broker Broker, sender string, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		broker:   broker,
		sender:   sender,
		logger:   logger,
		now:      time.Now,
		channels: make(map[string]*localChannel),
	}
}

func (t *Local) OpenRoomChannel(ctx context.Context, code string, onMessage Handler) (Channel, error) {
	return t.open(ctx, RoomChannel(code), onMessage)
}

func (t *Local) OpenUserChannel(ctx context.Context, userID string, onMessage Handler) (Channel, error) {
	return t.open(ctx, UserChannel(userID), onMessage)
}

func (t *Local) SendPrivate(ctx context.Context, targetUserID, event string, payload any) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return domain.ErrTransportClosed
	}
	env, err := NewEnvelope(UserChannel(targetUserID), event, t.sender, payload, t.now())
	if err != nil {
		return err
	}
	return t.broker.Publish(ctx, env)
}

// Close closes every open channel. The broker stays open.
func (t *Local) Close() error {
	t.mu.Lock()
	t.closed = true
	channels := t.channels
	t.channels = make(map[string]*localChannel)
	t.mu.Unlock()

	for _, ch := range channels {
		ch.stop()
	}
	return nil
}

func (t *Local) open(ctx context.Context, name string, onMessage Handler) (Channel, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, domain.ErrTransportClosed
	}
	t.mu.Unlock()

	sub, err := t.broker.Subscribe(ctx, name)
	if err != nil {
		return nil, err
	}
	ch := &localChannel{
		transport: t,
		name:      name,
		sub:       sub,
		done:      make(chan struct{}),
	}

	t.mu.Lock()
	old := t.channels[name]
	t.channels[name] = ch
	t.mu.Unlock()
	if old != nil {
		old.stop()
	}

	go ch.pump(onMessage)
	return ch, nil
}

type localChannel struct {
	transport *Local
	name      string
	sub       Subscription
	done      chan struct{}
	once      sync.Once
}

func (c *localChannel) Name() string {
	return c.name
}

func (c *localChannel) Broadcast(ctx context.Context, event string, payload any) error {
	select {
	case <-c.done:
		return domain.ErrTransportClosed
	default:
	}
	env, err := NewEnvelope(c.name, event, c.transport.sender, payload, c.transport.now())
	if err != nil {
		return err
	}
	return c.transport.broker.Publish(ctx, env)
}

func (c *localChannel) Close() error {
	c.transport.mu.Lock()
	if c.transport.channels[c.name] == c {
		delete(c.transport.channels, c.name)
	}
	c.transport.mu.Unlock()
	c.stop()
	return nil
}

func (c *localChannel) stop() {
	c.once.Do(func() {
		close(c.done)
		_ = c.sub.Close()
	})
}

func (c *localChannel) pump(onMessage Handler) {
	for {
		select {
		case <-c.done:
			return
		case env, ok := <-c.sub.Messages():
			if !ok {
				return
			}
			select {
			case <-c.done:
				return
			default:
			}
			onMessage(env)
		}
	}
}
