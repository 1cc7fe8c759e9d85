// Package game implements the host-authoritative room coordinator that runs
// inside every client.
//
// The host is the only writer of the shared GameState. Other clients forward
// intents (join, answer, leave) to the host over the room channel and merge
// the full-state broadcasts the host sends back. State broadcasts and room
// closure are only accepted from the player the roster names as host.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiz-squad/internal/domain"
	"quiz-squad/internal/pubsub"
)

// QuestionGenerator produces the question for a round. It may be slow and may fail.
type QuestionGenerator interface {
	GenerateQuestion(ctx context.Context, req domain.QuestionRequest) (domain.StoryNode, error)
}

// CodeChecker reports whether a room code already has listeners.
type CodeChecker interface {
	RoomLive(ctx context.Context, code string) (bool, error)
}

// ResultRecorder receives this client's final score when a game ends.
type ResultRecorder interface {
	RecordResult(ctx context.Context, playerID string, score int, won bool) error
}

// RoomConfig is chosen by the host before the game starts.
type RoomConfig struct {
	MaxRounds  int
	Difficulty domain.Difficulty
	GameMode   domain.GameMode
	Topic      string
	MinPlayers int
}

func (c RoomConfig) withDefaults() RoomConfig {
	if c.MaxRounds <= 0 {
		c.MaxRounds = domain.DefaultRounds
	}
	if c.Difficulty == "" {
		c.Difficulty = domain.DifficultyMedium
	}
	if c.GameMode == "" {
		c.GameMode = domain.ModeQuiz
	}
	if c.MinPlayers <= 0 {
		c.MinPlayers = 1
	}
	return c
}

// Options tune a Coordinator. Zero values pick sensible defaults; negative
// durations disable heartbeats or the host watchdog.
type Options struct {
	Logger            *slog.Logger
	Generator         QuestionGenerator
	CodeChecker       CodeChecker
	Results           ResultRecorder
	JoinTimeout       time.Duration
	HeartbeatInterval time.Duration
	HostTimeout       time.Duration
	SendTimeout       time.Duration
	ChatLimit         int
	OnError           func(error)
	Now               func() time.Time
	NewCode           func() string
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.JoinTimeout == 0 {
		o.JoinTimeout = 10 * time.Second
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = 5 * time.Second
	}
	if o.HostTimeout == 0 {
		o.HostTimeout = 20 * time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 5 * time.Second
	}
	if o.ChatLimit <= 0 {
		o.ChatLimit = 100
	}
	if o.OnError == nil {
		o.OnError = func(error) {}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewCode == nil {
		o.NewCode = NewRoomCode
	}
	return o
}

const (
	maxCodeAttempts = 8
	maxChatLength   = 500
)

// Coordinator owns one client's view of a room.
type Coordinator struct {
	self      domain.Identity
	transport pubsub.Transport
	opts      Options
	logger    *slog.Logger

	// serializes public operations so a slow question generation cannot
	// interleave with another state transition
	opMu sync.Mutex

	mu          sync.Mutex
	state       domain.GameState
	room        pubsub.Channel
	inbox       pubsub.Channel
	gen         uint64
	hostID      string
	minPlayers  int
	joinWait    chan error
	lastHost    time.Time
	stopLoop    context.CancelFunc
	chat        []domain.ChatMessage
	invites     []domain.Invite
	subscribers map[chan domain.GameState]struct{}
}

// New returns a coordinator in the Welcome state for the given identity.
func New(self domain.Identity, transport pubsub.Transport, opts Options) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		self:        self,
		transport:   transport,
		opts:        opts,
		logger:      opts.Logger.With("player", self.ID),
		state:       InitialState(),
		subscribers: make(map[chan domain.GameState]struct{}),
	}
}

// State returns a copy of the local GameState.
func (c *Coordinator) State() domain.GameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Clone(c.state)
}

// Self returns the identity this coordinator plays as.
func (c *Coordinator) Self() domain.Identity {
	return c.self
}

// IsHost reports whether this client hosts the open room.
func (c *Coordinator) IsHost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isHostLocked()
}

// Chat returns the room chat log, oldest first.
func (c *Coordinator) Chat() []domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ChatMessage(nil), c.chat...)
}

// PendingInvites returns invites received on the user channel.
func (c *Coordinator) PendingInvites() []domain.Invite {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Invite(nil), c.invites...)
}

// Subscribe returns a channel of state snapshots. The current state is sent
// first. The caller must invoke cancel to release the subscription.
func (c *Coordinator) Subscribe() (<-chan domain.GameState, func()) {
	ch := make(chan domain.GameState, 8)

	c.mu.Lock()
	c.subscribers[ch] = struct{}{}
	ch <- Clone(c.state)
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subscribers[ch]; ok {
			delete(c.subscribers, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

// CreateRoom opens a new room with this client as host and returns its code.
func (c *Coordinator) CreateRoom(ctx context.Context, cfg RoomConfig) (string, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.room != nil {
		c.mu.Unlock()
		return "", domain.ErrAlreadyInRoom
	}
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	cfg = cfg.withDefaults()
	code, err := c.pickCode(ctx)
	if err != nil {
		return "", err
	}

	ch, err := c.transport.OpenRoomChannel(ctx, code, c.roomHandler(gen))
	if err != nil {
		return "", fmt.Errorf("open room channel: %w", err)
	}

	c.mu.Lock()
	c.room = ch
	c.hostID = c.self.ID
	c.minPlayers = cfg.MinPlayers
	c.chat = nil
	c.state = domain.GameState{
		RoomCode: &code,
		View:     domain.ViewLobby,
		Players: []domain.Player{{
			ID:     c.self.ID,
			Name:   c.self.Name,
			Avatar: c.self.Avatar,
			IsHost: true,
			HP:     domain.MaxHP,
		}},
		MaxRounds:   cfg.MaxRounds,
		Difficulty:  cfg.Difficulty,
		GameMode:    cfg.GameMode,
		CustomTopic: cfg.Topic,
	}
	err = c.syncLocked()
	c.notifyLocked()
	c.mu.Unlock()

	c.startLoop(gen, true)
	c.logger.Info("room created", "room", code, "rounds", cfg.MaxRounds, "difficulty", cfg.Difficulty, "mode", cfg.GameMode)
	if err != nil {
		return code, fmt.Errorf("broadcast initial state: %w", err)
	}
	return code, nil
}

// JoinRoom asks the host of code to add this client and waits until the host
// broadcasts a roster that contains it.
func (c *Coordinator) JoinRoom(ctx context.Context, code string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.ErrRoomNotFound
	}

	c.mu.Lock()
	if c.room != nil {
		c.mu.Unlock()
		return domain.ErrAlreadyInRoom
	}
	c.gen++
	gen := c.gen
	wait := make(chan error, 1)
	c.joinWait = wait
	c.hostID = ""
	c.chat = nil
	c.mu.Unlock()

	ch, err := c.transport.OpenRoomChannel(ctx, code, c.roomHandler(gen))
	if err != nil {
		c.mu.Lock()
		c.joinWait = nil
		c.mu.Unlock()
		return fmt.Errorf("open room channel: %w", err)
	}

	c.mu.Lock()
	c.room = ch
	c.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
	err = ch.Broadcast(sendCtx, domain.EventJoinRequest, domain.JoinRequest{
		ID:     c.self.ID,
		Name:   c.self.Name,
		Avatar: c.self.Avatar,
	})
	cancel()

	if err == nil {
		timer := time.NewTimer(c.opts.JoinTimeout)
		select {
		case err = <-wait:
		case <-timer.C:
			err = domain.ErrRoomNotFound
		case <-ctx.Done():
			err = ctx.Err()
		}
		timer.Stop()
	}

	c.mu.Lock()
	c.joinWait = nil
	if err != nil {
		c.closeRoomLocked()
		c.state = InitialState()
		c.notifyLocked()
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("join failed", "room", code, "error", err)
		return err
	}
	c.startLoop(gen, false)
	c.logger.Info("joined room", "room", code)
	return nil
}

// StartGame moves the lobby into round 1. Host only.
func (c *Coordinator) StartGame(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if err := c.requireHostLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state.View != domain.ViewLobby {
		c.mu.Unlock()
		return domain.ErrInvalidPhase
	}
	if len(c.state.Players) < c.minPlayers {
		c.mu.Unlock()
		return domain.ErrNotEnoughPlayers
	}
	req := c.questionRequestLocked(1)
	room := c.room
	c.mu.Unlock()

	q := c.generate(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room != room || c.state.View != domain.ViewLobby {
		return domain.ErrNotInRoom
	}
	c.state = BeginGame(c.state, q)
	c.notifyLocked()
	c.logger.Info("game started", "room", c.codeLocked(), "players", len(c.state.Players))
	return c.syncLocked()
}

// SubmitAnswer answers the current question. The host scores its own answer
// directly; other clients send the answer to the host and wait for its broadcast.
func (c *Coordinator) SubmitAnswer(ctx context.Context, idx int) error {
	c.mu.Lock()
	if c.room == nil {
		c.mu.Unlock()
		return domain.ErrNotInRoom
	}

	if c.isHostLocked() {
		defer c.mu.Unlock()
		next, correct, err := ApplyAnswer(c.state, c.self.ID, idx)
		if err != nil {
			return err
		}
		before := c.state.View
		c.state = next
		c.notifyLocked()
		c.logger.Debug("answer applied", "correct", correct)
		err = c.syncLocked()
		c.endedLocked(before)
		return err
	}

	// reject locally what the host would reject anyway
	if _, _, err := ApplyAnswer(c.state, c.self.ID, idx); err != nil {
		c.mu.Unlock()
		return err
	}
	intent := domain.SubmitAnswer{
		PlayerID:  c.self.ID,
		Idx:       idx,
		IsCorrect: c.state.CurrentQuestion != nil && idx == c.state.CurrentQuestion.CorrectAnswerIndex,
	}
	room := c.room
	c.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
	defer cancel()
	if err := room.Broadcast(sendCtx, domain.EventSubmitAnswer, intent); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	return nil
}

// ShowLeaderboard moves a finished round from Results to Leaderboard. Host only.
func (c *Coordinator) ShowLeaderboard(_ context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireHostLocked(); err != nil {
		return err
	}
	if c.state.View != domain.ViewPlaying || c.state.Phase != domain.PhaseResults {
		return domain.ErrInvalidPhase
	}
	c.state.Phase = domain.PhaseLeaderboard
	c.notifyLocked()
	return c.syncLocked()
}

// AdvanceRound opens the next round, or ends the game when the last round is
// done or nobody has hp left. Host only, and only once every player still in
// the game has answered.
func (c *Coordinator) AdvanceRound(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if err := c.requireHostLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state.View != domain.ViewPlaying {
		c.mu.Unlock()
		return domain.ErrInvalidPhase
	}
	if !AllAnswered(c.state.Players) {
		c.mu.Unlock()
		return domain.ErrAnswersPending
	}
	if ShouldEnd(c.state) {
		c.state = EndGame(c.state)
		final := Clone(c.state)
		c.notifyLocked()
		err := c.syncLocked()
		c.mu.Unlock()
		c.logger.Info("game over", "room", derefCode(final.RoomCode), "round", final.CurrentRound)
		c.recordResult(ctx, final)
		return err
	}
	req := c.questionRequestLocked(c.state.CurrentRound + 1)
	room := c.room
	round := c.state.CurrentRound
	c.mu.Unlock()

	q := c.generate(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room != room || c.state.View != domain.ViewPlaying || c.state.CurrentRound != round {
		return domain.ErrNotInRoom
	}
	c.state = NextRound(c.state, q)
	c.notifyLocked()
	c.logger.Info("round started", "room", c.codeLocked(), "round", c.state.CurrentRound)
	return c.syncLocked()
}

// MergeRemoteState shallow-merges a partial state over the local one.
func (c *Coordinator) MergeRemoteState(patch domain.StatePatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Merge(c.state, patch)
	c.notifyLocked()
}

// LeaveRoom leaves the open room and returns to Welcome. A leaving host
// closes the room for everyone.
func (c *Coordinator) LeaveRoom(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil {
		c.state = InitialState()
		c.notifyLocked()
		return domain.ErrNotInRoom
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
	defer cancel()
	var err error
	if c.isHostLocked() {
		err = c.room.Broadcast(sendCtx, domain.EventRoomClosed, struct{}{})
	} else {
		err = c.room.Broadcast(sendCtx, domain.EventPlayerLeft, domain.PlayerLeft{PlayerID: c.self.ID})
	}
	if err != nil {
		c.logger.Warn("leave broadcast failed", "room", c.codeLocked(), "error", err)
	}
	c.logger.Info("left room", "room", c.codeLocked())
	c.closeRoomLocked()
	c.state = InitialState()
	c.notifyLocked()
	return nil
}

// Reset discards a finished game and returns to Welcome. Only valid from GameOver.
func (c *Coordinator) Reset() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.View != domain.ViewGameOver {
		return domain.ErrInvalidPhase
	}
	if c.room != nil && c.isHostLocked() {
		sendCtx, cancel := context.WithTimeout(context.Background(), c.opts.SendTimeout)
		if err := c.room.Broadcast(sendCtx, domain.EventRoomClosed, struct{}{}); err != nil {
			c.logger.Warn("room closed broadcast failed", "room", c.codeLocked(), "error", err)
		}
		cancel()
	}
	c.closeRoomLocked()
	c.state = InitialState()
	c.notifyLocked()
	return nil
}

// SendChat posts a chat line to the room.
func (c *Coordinator) SendChat(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if r := []rune(text); len(r) > maxChatLength {
		text = string(r[:maxChatLength])
	}

	c.mu.Lock()
	room := c.room
	c.mu.Unlock()
	if room == nil {
		return domain.ErrNotInRoom
	}

	msg := domain.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   c.self.ID,
		SenderName: c.self.Name,
		Text:       text,
		Timestamp:  c.opts.Now(),
	}
	sendCtx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
	defer cancel()
	return room.Broadcast(sendCtx, domain.EventChatMessage, msg)
}

// ListenInvites opens this user's private channel so squad invites can arrive.
func (c *Coordinator) ListenInvites(ctx context.Context) error {
	ch, err := c.transport.OpenUserChannel(ctx, c.self.ID, c.handleInbox)
	if err != nil {
		return fmt.Errorf("open user channel: %w", err)
	}
	c.mu.Lock()
	old := c.inbox
	c.inbox = ch
	c.mu.Unlock()
	if old != nil && old != ch {
		_ = old.Close()
	}
	return nil
}

// SendInvite invites another user to the open room.
func (c *Coordinator) SendInvite(ctx context.Context, userID string) error {
	c.mu.Lock()
	if c.room == nil || c.state.RoomCode == nil {
		c.mu.Unlock()
		return domain.ErrNotInRoom
	}
	invite := domain.SquadInvite{RoomCode: *c.state.RoomCode, SenderName: c.self.Name}
	c.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
	defer cancel()
	return c.transport.SendPrivate(sendCtx, userID, domain.EventSquadInvite, invite)
}

// AcceptInvite drops the pending invite for code and joins that room.
func (c *Coordinator) AcceptInvite(ctx context.Context, code string) error {
	c.mu.Lock()
	kept := c.invites[:0]
	for _, inv := range c.invites {
		if inv.RoomCode != code {
			kept = append(kept, inv)
		}
	}
	c.invites = kept
	c.mu.Unlock()
	return c.JoinRoom(ctx, code)
}

// Close leaves any open room and closes the user channel.
func (c *Coordinator) Close(ctx context.Context) error {
	if err := c.LeaveRoom(ctx); err != nil && !errors.Is(err, domain.ErrNotInRoom) {
		return err
	}
	c.mu.Lock()
	inbox := c.inbox
	c.inbox = nil
	for ch := range c.subscribers {
		delete(c.subscribers, ch)
		close(ch)
	}
	c.mu.Unlock()
	if inbox != nil {
		return inbox.Close()
	}
	return nil
}

func (c *Coordinator) roomHandler(gen uint64) pubsub.Handler {
	return func(env pubsub.Envelope) {
		c.handleRoom(gen, env)
	}
}

func (c *Coordinator) handleRoom(gen uint64, env pubsub.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.room == nil {
		return
	}
	if c.hostID != "" && env.Sender == c.hostID {
		c.lastHost = c.opts.Now()
	}

	switch env.Event {
	case domain.EventSyncState:
		c.onSyncLocked(env)
	case domain.EventJoinRequest:
		c.onJoinRequestLocked(env)
	case domain.EventJoinRejected:
		c.onJoinRejectedLocked(env)
	case domain.EventPlayerLeft:
		c.onPlayerLeftLocked(env)
	case domain.EventRoomClosed:
		c.onRoomClosedLocked(env)
	case domain.EventSubmitAnswer:
		c.onSubmitAnswerLocked(env)
	case domain.EventChatMessage:
		c.onChatLocked(env)
	case domain.EventHostHeartbeat:
	default:
		c.logger.Debug("ignoring unknown event", "event", env.Event)
	}
}

func (c *Coordinator) onSyncLocked(env pubsub.Envelope) {
	// the host applies every change before broadcasting it
	if c.isHostLocked() {
		return
	}
	var patch domain.StatePatch
	if err := env.Decode(&patch); err != nil {
		c.logger.Warn("bad state payload", "error", err)
		return
	}

	if c.hostID == "" {
		host, ok := HostOf(patch.Players)
		if !ok || host.ID != env.Sender {
			c.logger.Warn("ignoring state from non-host", "sender", env.Sender)
			return
		}
		c.hostID = env.Sender
		c.lastHost = c.opts.Now()
	} else if env.Sender != c.hostID {
		c.logger.Warn("ignoring state from non-host", "sender", env.Sender)
		return
	}

	wasOver := c.state.View == domain.ViewGameOver
	c.state = Merge(c.state, patch)
	c.notifyLocked()
	if !wasOver && c.state.View == domain.ViewGameOver {
		go c.recordResult(context.Background(), Clone(c.state))
	}
	if c.joinWait != nil && IndexOf(c.state.Players, c.self.ID) >= 0 {
		c.joinWait <- nil
		c.joinWait = nil
	}
}

func (c *Coordinator) onJoinRequestLocked(env pubsub.Envelope) {
	if !c.isHostLocked() {
		return
	}
	var req domain.JoinRequest
	if err := env.Decode(&req); err != nil {
		c.logger.Warn("bad join payload", "error", err)
		return
	}
	if req.ID == "" || req.ID != env.Sender {
		c.logger.Warn("join request for another player", "sender", env.Sender, "player", req.ID)
		return
	}

	next, added, err := AddPlayer(c.state, req)
	if errors.Is(err, domain.ErrRoomFull) {
		c.logger.Info("rejecting join, room full", "player", req.ID)
		c.broadcastLocked(domain.EventJoinRejected, domain.JoinRejected{PlayerID: req.ID, Reason: err.Error()})
		return
	}
	if added {
		c.state = next
		c.notifyLocked()
		c.logger.Info("player joined", "room", c.codeLocked(), "joined", req.ID, "players", len(next.Players))
	}
	// a rejoining player still needs the current state
	if err := c.syncLocked(); err != nil {
		c.logger.Warn("sync after join failed", "error", err)
	}
}

func (c *Coordinator) onJoinRejectedLocked(env pubsub.Envelope) {
	if c.joinWait == nil || (c.hostID != "" && env.Sender != c.hostID) {
		return
	}
	var rej domain.JoinRejected
	if err := env.Decode(&rej); err != nil || rej.PlayerID != c.self.ID {
		return
	}
	c.joinWait <- domain.ErrRoomFull
	c.joinWait = nil
}

func (c *Coordinator) onPlayerLeftLocked(env pubsub.Envelope) {
	if !c.isHostLocked() {
		return
	}
	var left domain.PlayerLeft
	if err := env.Decode(&left); err != nil {
		c.logger.Warn("bad leave payload", "error", err)
		return
	}
	if left.PlayerID != env.Sender {
		c.logger.Warn("leave for another player", "sender", env.Sender, "player", left.PlayerID)
		return
	}
	next, removed := RemovePlayer(c.state, left.PlayerID)
	if !removed {
		return
	}
	before := c.state.View
	c.state = next
	c.notifyLocked()
	c.logger.Info("player left", "room", c.codeLocked(), "left", left.PlayerID)
	if err := c.syncLocked(); err != nil {
		c.logger.Warn("sync after leave failed", "error", err)
	}
	c.endedLocked(before)
}

func (c *Coordinator) onRoomClosedLocked(env pubsub.Envelope) {
	if c.isHostLocked() || c.hostID == "" || env.Sender != c.hostID {
		return
	}
	c.logger.Info("room closed by host", "room", c.codeLocked())
	c.closeRoomLocked()
	c.state = InitialState()
	c.notifyLocked()
}

func (c *Coordinator) onSubmitAnswerLocked(env pubsub.Envelope) {
	if !c.isHostLocked() {
		return
	}
	var intent domain.SubmitAnswer
	if err := env.Decode(&intent); err != nil {
		c.logger.Warn("bad answer payload", "error", err)
		return
	}
	if intent.PlayerID != env.Sender {
		c.logger.Warn("answer for another player", "sender", env.Sender, "player", intent.PlayerID)
		return
	}
	next, correct, err := ApplyAnswer(c.state, intent.PlayerID, intent.Idx)
	if err != nil {
		c.logger.Debug("answer rejected", "player", intent.PlayerID, "error", err)
		return
	}
	before := c.state.View
	c.state = next
	c.notifyLocked()
	c.logger.Debug("answer applied", "player", intent.PlayerID, "correct", correct)
	if err := c.syncLocked(); err != nil {
		c.logger.Warn("sync after answer failed", "error", err)
	}
	c.endedLocked(before)
}

func (c *Coordinator) onChatLocked(env pubsub.Envelope) {
	var msg domain.ChatMessage
	if err := env.Decode(&msg); err != nil {
		c.logger.Warn("bad chat payload", "error", err)
		return
	}
	msg.SenderID = env.Sender
	c.chat = append(c.chat, msg)
	if over := len(c.chat) - c.opts.ChatLimit; over > 0 {
		c.chat = append([]domain.ChatMessage(nil), c.chat[over:]...)
	}
}

func (c *Coordinator) handleInbox(env pubsub.Envelope) {
	if env.Event != domain.EventSquadInvite {
		return
	}
	var inv domain.SquadInvite
	if err := env.Decode(&inv); err != nil || inv.RoomCode == "" {
		c.logger.Warn("bad invite payload", "sender", env.Sender)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.invites {
		if c.invites[i].RoomCode == inv.RoomCode {
			c.invites[i].SenderName = inv.SenderName
			c.invites[i].ReceivedAt = c.opts.Now()
			return
		}
	}
	c.invites = append(c.invites, domain.Invite{
		RoomCode:   inv.RoomCode,
		SenderName: inv.SenderName,
		ReceivedAt: c.opts.Now(),
	})
}

// startLoop runs heartbeats for a host or the host watchdog for a player.
func (c *Coordinator) startLoop(gen uint64, host bool) {
	interval := c.opts.HeartbeatInterval
	if !host {
		interval = c.opts.HostTimeout / 4
	}
	if interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if gen != c.gen || c.room == nil {
		c.mu.Unlock()
		cancel()
		return
	}
	if c.stopLoop != nil {
		c.stopLoop()
	}
	c.stopLoop = cancel
	c.lastHost = c.opts.Now()
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !c.tick(gen) {
					return
				}
			}
		}
	}()
}

func (c *Coordinator) tick(gen uint64) bool {
	c.mu.Lock()
	if gen != c.gen || c.room == nil {
		c.mu.Unlock()
		return false
	}
	if c.isHostLocked() {
		c.broadcastLocked(domain.EventHostHeartbeat, struct{}{})
		c.mu.Unlock()
		return true
	}
	if c.opts.Now().Sub(c.lastHost) <= c.opts.HostTimeout {
		c.mu.Unlock()
		return true
	}
	c.logger.Warn("host timed out", "room", c.codeLocked(), "host", c.hostID)
	c.closeRoomLocked()
	c.state = InitialState()
	c.notifyLocked()
	c.mu.Unlock()
	c.opts.OnError(domain.ErrHostLost)
	return false
}

func (c *Coordinator) pickCode(ctx context.Context) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := c.opts.NewCode()
		if c.opts.CodeChecker == nil {
			return code, nil
		}
		live, err := c.opts.CodeChecker.RoomLive(ctx, code)
		if err != nil {
			// the checker is advisory
			c.logger.Warn("room code check failed", "error", err)
			return code, nil
		}
		if !live {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free room code after %d attempts", maxCodeAttempts)
}

func (c *Coordinator) generate(ctx context.Context, req domain.QuestionRequest) domain.StoryNode {
	if c.opts.Generator == nil {
		return PlaceholderQuestion(req.Mode)
	}
	q, err := c.opts.Generator.GenerateQuestion(ctx, req)
	if err != nil {
		c.logger.Warn("question generation failed, using placeholder", "round", req.Round, "error", err)
		return PlaceholderQuestion(req.Mode)
	}
	if err := ValidateQuestion(q, req.Mode); err != nil {
		c.logger.Warn("generated question rejected, using placeholder", "round", req.Round, "error", err)
		return PlaceholderQuestion(req.Mode)
	}
	return q
}

// recordResult reports this client's own final score. Winners are the
// players with the top score, if anyone scored at all.
func (c *Coordinator) recordResult(ctx context.Context, final domain.GameState) {
	if c.opts.Results == nil {
		return
	}
	i := IndexOf(final.Players, c.self.ID)
	if i < 0 {
		return
	}
	best := 0
	for _, p := range final.Players {
		best = max(best, p.Score)
	}
	me := final.Players[i]
	won := best > 0 && me.Score == best
	if err := c.opts.Results.RecordResult(ctx, me.ID, me.Score, won); err != nil {
		c.logger.Warn("record result failed", "error", err)
	}
}

// endedLocked records the host's result when an answer or a departure left
// nobody with hp. AdvanceRound records its own game over.
func (c *Coordinator) endedLocked(before domain.View) {
	if before != domain.ViewPlaying || c.state.View != domain.ViewGameOver {
		return
	}
	c.logger.Info("game over, no players left standing", "room", c.codeLocked(), "round", c.state.CurrentRound)
	go c.recordResult(context.Background(), Clone(c.state))
}

func (c *Coordinator) questionRequestLocked(round int) domain.QuestionRequest {
	return domain.QuestionRequest{
		Round:      round,
		Difficulty: c.state.Difficulty,
		Mode:       c.state.GameMode,
		Topic:      c.state.CustomTopic,
	}
}

func (c *Coordinator) requireHostLocked() error {
	if c.room == nil {
		return domain.ErrNotInRoom
	}
	if !c.isHostLocked() {
		return domain.ErrNotHost
	}
	return nil
}

func (c *Coordinator) isHostLocked() bool {
	return c.room != nil && c.hostID == c.self.ID
}

func (c *Coordinator) syncLocked() error {
	if c.room == nil {
		return domain.ErrNotInRoom
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.SendTimeout)
	defer cancel()
	return c.room.Broadcast(ctx, domain.EventSyncState, domain.FullPatch(c.state))
}

func (c *Coordinator) broadcastLocked(event string, payload any) {
	if c.room == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.SendTimeout)
	defer cancel()
	if err := c.room.Broadcast(ctx, event, payload); err != nil {
		c.logger.Warn("broadcast failed", "event", event, "error", err)
	}
}

func (c *Coordinator) closeRoomLocked() {
	if c.stopLoop != nil {
		c.stopLoop()
		c.stopLoop = nil
	}
	if c.room != nil {
		_ = c.room.Close()
		c.room = nil
	}
	c.hostID = ""
	c.gen++
	if c.joinWait != nil {
		c.joinWait <- domain.ErrRoomNotFound
		c.joinWait = nil
	}
}

func (c *Coordinator) notifyLocked() {
	snapshot := Clone(c.state)
	for ch := range c.subscribers {
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

func (c *Coordinator) codeLocked() string {
	return derefCode(c.state.RoomCode)
}

func derefCode(code *string) string {
	if code == nil {
		return ""
	}
	return *code
}
