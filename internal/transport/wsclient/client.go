// Package wsclient connects a game coordinator to a remote relay over a
// single websocket. It implements pubsub.Transport.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"quiz-squad/internal/domain"
	"quiz-squad/internal/pubsub"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	queueSize  = 64
)

// Transport multiplexes channel subscriptions over one relay connection.
// Handlers run on the read goroutine, so they must not wait on the transport.
type Transport struct {
	conn   *websocket.Conn
	logger *slog.Logger
	send   chan pubsub.Frame
	refs   atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu       sync.Mutex
	channels map[string]*route
	pending  map[string]chan error
	lastGen  uint64
	closed   bool
}

type route struct {
	gen     uint64
	handler pubsub.Handler
}

// Dial opens a relay connection authenticated with token.
func Dial(ctx context.Context, url, token string, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	group, runCtx := errgroup.WithContext(runCtx)
	t := &Transport{
		conn:     conn,
		logger:   logger,
		send:     make(chan pubsub.Frame, queueSize),
		ctx:      runCtx,
		cancel:   cancel,
		group:    group,
		channels: make(map[string]*route),
		pending:  make(map[string]chan error),
	}
	group.Go(t.readLoop)
	group.Go(func() error {
		err := t.writeLoop()
		// unblock the reader
		_ = t.conn.Close()
		return err
	})
	return t, nil
}

// OpenRoomChannel implements pubsub.Transport.
func (t *Transport) OpenRoomChannel(ctx context.Context, code string, onMessage pubsub.Handler) (pubsub.Channel, error) {
	return t.open(ctx, pubsub.RoomChannel(code), onMessage)
}

// OpenUserChannel implements pubsub.Transport.
func (t *Transport) OpenUserChannel(ctx context.Context, userID string, onMessage pubsub.Handler) (pubsub.Channel, error) {
	return t.open(ctx, pubsub.UserChannel(userID), onMessage)
}

// SendPrivate publishes on the target's user channel without subscribing.
func (t *Transport) SendPrivate(ctx context.Context, targetUserID, event string, payload any) error {
	return t.publish(ctx, pubsub.UserChannel(targetUserID), event, payload)
}

// Close tears down the connection and waits for the loops to exit.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for ref, wait := range t.pending {
		wait <- domain.ErrTransportClosed
		delete(t.pending, ref)
	}
	t.channels = make(map[string]*route)
	t.mu.Unlock()

	t.cancel()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	_ = t.conn.Close()
	if err := t.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		t.logger.Debug("relay connection ended", "error", err)
	}
	return nil
}

func (t *Transport) open(ctx context.Context, name string, onMessage pubsub.Handler) (pubsub.Channel, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, domain.ErrTransportClosed
	}
	r, subscribed := t.channels[name]
	if !subscribed {
		r = &route{}
		t.channels[name] = r
	}
	// generations never repeat, so a handle from a deleted route stays stale
	t.lastGen++
	r.gen = t.lastGen
	r.handler = onMessage
	ch := &channel{t: t, name: name, gen: r.gen}
	if subscribed {
		t.mu.Unlock()
		return ch, nil
	}
	ref := strconv.FormatUint(t.refs.Add(1), 10)
	wait := make(chan error, 1)
	t.pending[ref] = wait
	t.mu.Unlock()

	if err := t.enqueue(ctx, pubsub.Frame{Type: pubsub.FrameSubscribe, Ref: ref, Channel: name}); err != nil {
		t.abandon(name, ref, ch.gen)
		return nil, err
	}

	select {
	case err := <-wait:
		if err != nil {
			t.abandon(name, ref, ch.gen)
			return nil, fmt.Errorf("subscribe %s: %w", name, err)
		}
		return ch, nil
	case <-ctx.Done():
		t.abandon(name, ref, ch.gen)
		return nil, ctx.Err()
	}
}

// abandon drops a subscription that never completed.
func (t *Transport) abandon(name, ref string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, ref)
	if r, ok := t.channels[name]; ok && r.gen == gen {
		delete(t.channels, name)
	}
}

func (t *Transport) publish(ctx context.Context, name, event string, payload any) error {
	env, err := pubsub.NewEnvelope(name, event, "", payload, time.Time{})
	if err != nil {
		return err
	}
	return t.enqueue(ctx, pubsub.Frame{Type: pubsub.FramePublish, Channel: name, Event: event, Payload: env.Payload})
}

func (t *Transport) enqueue(ctx context.Context, frame pubsub.Frame) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return domain.ErrTransportClosed
	}
	select {
	case t.send <- frame:
		return nil
	case <-t.ctx.Done():
		return domain.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) readLoop() error {
	t.conn.SetReadLimit(1 << 20)
	_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	// the relay pings us; answering resets our own deadline too
	t.conn.SetPingHandler(func(data string) error {
		_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
		return t.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	defer t.failPending()
	for {
		var frame pubsub.Frame
		if err := t.conn.ReadJSON(&frame); err != nil {
			if t.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read relay frame: %w", err)
		}
		t.dispatch(frame)
	}
}

func (t *Transport) dispatch(frame pubsub.Frame) {
	switch frame.Type {
	case pubsub.FrameSubscribed:
		t.resolve(frame.Ref, nil)
	case pubsub.FrameUnsubscribed:
	case pubsub.FrameError:
		if !t.resolve(frame.Ref, relayError(frame.Error)) {
			t.logger.Warn("relay rejected frame", "channel", frame.Channel, "error", frame.Error)
		}
	case pubsub.FrameMessage:
		if frame.Message == nil {
			return
		}
		t.mu.Lock()
		r, ok := t.channels[frame.Channel]
		var handler pubsub.Handler
		if ok {
			handler = r.handler
		}
		t.mu.Unlock()
		if handler != nil {
			handler(*frame.Message)
		}
	default:
		t.logger.Debug("unknown relay frame", "type", frame.Type)
	}
}

func (t *Transport) resolve(ref string, err error) bool {
	if ref == "" {
		return false
	}
	t.mu.Lock()
	wait, ok := t.pending[ref]
	delete(t.pending, ref)
	t.mu.Unlock()
	if ok {
		wait <- err
	}
	return ok
}

func (t *Transport) failPending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ref, wait := range t.pending {
		wait <- domain.ErrTransportClosed
		delete(t.pending, ref)
	}
}

func (t *Transport) writeLoop() error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return nil
		case frame := <-t.send:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteJSON(frame); err != nil {
				if t.ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("write relay frame: %w", err)
			}
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("ping relay: %w", err)
			}
		}
	}
}

func relayError(msg string) error {
	for _, known := range []error{domain.ErrForbiddenChannel, domain.ErrNoIdentity} {
		if strings.HasPrefix(msg, known.Error()) {
			return known
		}
	}
	return errors.New(msg)
}

type channel struct {
	t    *Transport
	name string
	gen  uint64
}

func (c *channel) Name() string { return c.name }

func (c *channel) Broadcast(ctx context.Context, event string, payload any) error {
	c.t.mu.Lock()
	r, ok := c.t.channels[c.name]
	live := ok && r.gen == c.gen
	c.t.mu.Unlock()
	if !live {
		return domain.ErrTransportClosed
	}
	return c.t.publish(ctx, c.name, event, payload)
}

// Close unsubscribes unless the channel was reopened since.
func (c *channel) Close() error {
	c.t.mu.Lock()
	r, ok := c.t.channels[c.name]
	if !ok || r.gen != c.gen {
		c.t.mu.Unlock()
		return nil
	}
	delete(c.t.channels, c.name)
	c.t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	err := c.t.enqueue(ctx, pubsub.Frame{Type: pubsub.FrameUnsubscribe, Channel: c.name})
	if errors.Is(err, domain.ErrTransportClosed) {
		return nil
	}
	return err
}

var _ pubsub.Transport = (*Transport)(nil)
