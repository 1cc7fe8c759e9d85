// Package amqp carries relay channels over a RabbitMQ direct exchange. Every
// subscription owns an exclusive auto-delete queue bound with the channel
// name as routing key.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"quiz-squad/internal/domain"
	"quiz-squad/internal/pubsub"
)

const DefaultExchange = "quizsquad.channels"

type Broker struct {
	conn     *amqp.Connection
	exchange string
	buffer   int
	logger   *slog.Logger

	pubMu sync.Mutex
	pub   *amqp.Channel

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// Dial connects to url and declares the exchange.
func Dial(url, exchange string, buffer int, logger *slog.Logger) (*Broker, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if buffer <= 0 {
		buffer = 32
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = pub.ExchangeDeclare(
		exchange, // name
		"direct", // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &Broker{
		conn:     conn,
		exchange: exchange,
		buffer:   buffer,
		logger:   logger,
		pub:      pub,
		subs:     make(map[*subscription]struct{}),
	}, nil
}

func (b *Broker) Subscribe(_ context.Context, channel string) (pubsub.Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, domain.ErrTransportClosed
	}
	b.mu.Unlock()

	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	q, err := ch.QueueDeclare(
		"",    // name, server generated
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, channel, b.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("bind %s: %w", channel, err)
	}
	deliveries, err := ch.Consume(
		q.Name, // queue
		"",     // consumer
		true,   // auto-ack
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume %s: %w", channel, err)
	}

	sub := &subscription{
		broker: b,
		ch:     ch,
		out:    make(chan pubsub.Envelope, b.buffer),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.run(deliveries, b.logger.With("channel", channel))
	return sub, nil
}

func (b *Broker) Publish(ctx context.Context, env pubsub.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	return b.pub.PublishWithContext(ctx,
		b.exchange,  // exchange
		env.Channel, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Type:        env.Event,
			Timestamp:   env.SentAt,
			Body:        body,
		})
}

func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*subscription]struct{})
	b.mu.Unlock()

	for sub := range subs {
		_ = sub.Close()
	}
	return b.conn.Close()
}

type subscription struct {
	broker *Broker
	ch     *amqp.Channel
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
		// closing the channel drops the exclusive queue with it
		err = s.ch.Close()
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
	})
	return err
}

func (s *subscription) run(deliveries <-chan amqp.Delivery, logger *slog.Logger) {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			var env pubsub.Envelope
			if err := json.Unmarshal(d.Body, &env); err != nil {
				logger.Warn("dropping malformed envelope", "error", err)
				continue
			}
			select {
			case s.out <- env:
			case <-s.done:
				return
			default:
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
