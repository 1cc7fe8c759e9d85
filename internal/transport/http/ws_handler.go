package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"quiz-squad/internal/app"
	"quiz-squad/internal/domain"
	"quiz-squad/internal/identity"
	"quiz-squad/internal/pubsub"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxFrameSize    = 1 << 20
	defaultMaxSubs  = 16
	sendQueueLength = 64
)

type WSHandler struct {
	relay    *app.RelayService
	tokens   *identity.TokenIssuer
	logger   *slog.Logger
	maxSubs  int
	upgrader websocket.Upgrader
}

func NewWSHandler(relay *app.RelayService, tokens *identity.TokenIssuer, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		relay:   relay,
		tokens:  tokens,
		logger:  logger,
		maxSubs: defaultMaxSubs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades an authenticated request and relays channel frames until
// the client disconnects.
func (h *WSHandler) ServeWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	who, err := h.tokens.Verify(token)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s := &wsSession{
		handler:      h,
		who:          who,
		conn:         conn,
		logger:       h.logger.With("identity", who.ID),
		send:         make(chan pubsub.Frame, sendQueueLength),
		closeSignals: make(chan struct{}),
		writerDone:   make(chan struct{}),
		subs:         make(map[string]pubsub.Subscription),
	}
	s.logger.Info("relay client connected", "guest", who.Guest)
	s.run(c.Request.Context())
	s.logger.Info("relay client disconnected")
}

type wsSession struct {
	handler *WSHandler
	who     domain.Identity
	conn    *websocket.Conn
	logger  *slog.Logger

	send         chan pubsub.Frame
	closeSignals chan struct{}
	writerDone   chan struct{}
	pumps        sync.WaitGroup

	mu   sync.Mutex
	subs map[string]pubsub.Subscription
}

func (s *wsSession) run(ctx context.Context) {
	go s.writeLoop()

	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame pubsub.Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("ws read error", "error", err)
			}
			break
		}
		s.handle(ctx, frame)
	}

	close(s.closeSignals)
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]pubsub.Subscription)
	s.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
	s.pumps.Wait()
	close(s.send)
	<-s.writerDone
}

func (s *wsSession) handle(ctx context.Context, frame pubsub.Frame) {
	switch frame.Type {
	case pubsub.FrameSubscribe:
		if err := s.subscribe(ctx, frame.Channel); err != nil {
			s.fail(frame, err)
			return
		}
		s.queue(pubsub.Frame{Type: pubsub.FrameSubscribed, Ref: frame.Ref, Channel: frame.Channel})
	case pubsub.FrameUnsubscribe:
		s.unsubscribe(frame.Channel)
		s.queue(pubsub.Frame{Type: pubsub.FrameUnsubscribed, Ref: frame.Ref, Channel: frame.Channel})
	case pubsub.FramePublish:
		if err := s.handler.relay.Publish(ctx, s.who, frame.Channel, frame.Event, frame.Payload); err != nil {
			s.fail(frame, err)
		}
	default:
		s.fail(frame, errors.New("unsupported frame type"))
	}
}

func (s *wsSession) subscribe(ctx context.Context, channel string) error {
	s.mu.Lock()
	if _, ok := s.subs[channel]; ok {
		s.mu.Unlock()
		return nil
	}
	if len(s.subs) >= s.handler.maxSubs {
		s.mu.Unlock()
		return errors.New("too many subscriptions")
	}
	s.mu.Unlock()

	sub, err := s.handler.relay.Subscribe(ctx, s.who, channel)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.subs[channel] = sub
	s.mu.Unlock()

	s.pumps.Add(1)
	go s.pump(channel, sub)
	return nil
}

func (s *wsSession) unsubscribe(channel string) {
	s.mu.Lock()
	sub, ok := s.subs[channel]
	delete(s.subs, channel)
	s.mu.Unlock()
	if ok {
		_ = sub.Close()
	}
}

func (s *wsSession) pump(channel string, sub pubsub.Subscription) {
	defer s.pumps.Done()
	for env := range sub.Messages() {
		env := env
		if !s.queue(pubsub.Frame{Type: pubsub.FrameMessage, Channel: channel, Message: &env}) {
			return
		}
	}
}

func (s *wsSession) fail(frame pubsub.Frame, err error) {
	s.logger.Debug("frame rejected", "type", frame.Type, "channel", frame.Channel, "error", err)
	s.queue(pubsub.Frame{Type: pubsub.FrameError, Ref: frame.Ref, Channel: frame.Channel, Error: err.Error()})
}

// queue hands a frame to the writer. It reports false once the session is closing.
func (s *wsSession) queue(frame pubsub.Frame) bool {
	select {
	case s.send <- frame:
		return true
	case <-s.closeSignals:
		return false
	case <-s.writerDone:
		return false
	}
}

func (s *wsSession) writeLoop() {
	defer close(s.writerDone)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-s.send:
			if !ok {
				_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				s.logger.Debug("ws write error", "error", err)
				// unblock the reader so the session tears down
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = s.conn.Close()
				return
			}
		}
	}
}
