package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"quiz-squad/internal/domain"
	"quiz-squad/internal/game"
	"quiz-squad/internal/transport/wsclient"
)

type botOptions struct {
	relay         string
	name          string
	accountID     string
	accountKey    string
	join          string
	squad         int
	rounds        int
	difficulty    string
	mode          string
	topic         string
	invite        []string
	acceptInvites bool
	accuracy      float64
	think         time.Duration
}

// NewBotCmd runs a headless player against a relay. Without --join it hosts a
// room and starts once the squad is complete.
func NewBotCmd(flags *rootFlags) *cobra.Command {
	opts := botOptions{}
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Play a room headlessly as host or guest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if opts.rounds == 0 {
				opts.rounds = cfg.Game.Rounds
			}
			if opts.difficulty == "" {
				opts.difficulty = cfg.Game.Difficulty
			}
			if opts.mode == "" {
				opts.mode = cfg.Game.Mode
			}
			if opts.topic == "" {
				opts.topic = cfg.Game.Topic
			}
			return runBot(cmd.Context(), opts, newLogger(cfg.Log.Level))
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&opts.relay, "relay", "http://localhost:8080", "relay base url")
	fs.StringVar(&opts.name, "name", "Bot", "display name")
	fs.StringVar(&opts.accountID, "account", "", "sign in to an existing profile instead of playing as guest")
	fs.StringVar(&opts.accountKey, "account-key", "", "account key returned when the profile was registered")
	fs.StringVar(&opts.join, "join", "", "room code to join; hosts a new room when empty")
	fs.IntVar(&opts.squad, "squad", 2, "players to wait for before the host starts")
	fs.IntVar(&opts.rounds, "rounds", 0, "rounds per game")
	fs.StringVar(&opts.difficulty, "difficulty", "", "Fácil, Médio or Difícil")
	fs.StringVar(&opts.mode, "mode", "", "Quiz or TrueFalse")
	fs.StringVar(&opts.topic, "topic", "", "question topic")
	fs.StringSliceVar(&opts.invite, "invite", nil, "user ids to invite after hosting")
	fs.BoolVar(&opts.acceptInvites, "accept-invites", false, "wait for a squad invite instead of joining")
	fs.Float64Var(&opts.accuracy, "accuracy", 0.7, "chance of answering correctly")
	fs.DurationVar(&opts.think, "think", 1500*time.Millisecond, "pause before answering and between rounds")
	return cmd
}

func runBot(ctx context.Context, opts botOptions, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := wsclient.NewAPI(opts.relay, nil)
	var (
		session wsclient.Session
		err     error
	)
	if opts.accountID != "" {
		if opts.accountKey == "" {
			return errors.New("--account needs --account-key")
		}
		session, err = api.AccountSession(ctx, opts.accountID, opts.accountKey, "", "")
	} else {
		session, err = api.GuestSession(ctx, opts.name, "")
	}
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	logger = logger.With("player", session.Identity.Name)

	tr, err := wsclient.Dial(ctx, api.WebSocketURL(), session.Token, logger)
	if err != nil {
		return err
	}
	defer tr.Close()

	lost := make(chan error, 1)
	coord := game.New(session.Identity, tr, game.Options{
		Logger:      logger,
		Generator:   api,
		CodeChecker: api,
		Results:     api,
		OnError: func(err error) {
			select {
			case lost <- err:
			default:
			}
		},
	})
	defer coord.Close(context.Background())

	if err := coord.ListenInvites(ctx); err != nil {
		return err
	}

	b := &bot{opts: opts, coord: coord, logger: logger, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
	if err := b.enter(ctx); err != nil {
		return err
	}

	states, cancel := coord.Subscribe()
	defer cancel()
	// invites arrive without a state change
	poll := time.NewTicker(time.Second)
	defer poll.Stop()
	for {
		var s domain.GameState
		select {
		case <-ctx.Done():
			return nil
		case err := <-lost:
			return err
		case <-poll.C:
			s = coord.State()
		case snapshot, ok := <-states:
			if !ok {
				return nil
			}
			s = snapshot
		}
		done, err := b.step(ctx, s)
		if err != nil {
			return err
		}
		if done {
			// the final result is posted in the background
			b.pause(ctx)
			return nil
		}
	}
}

type bot struct {
	opts     botOptions
	coord    *game.Coordinator
	logger   *slog.Logger
	rnd      *rand.Rand
	entered  bool
	answered int
	advanced int
}

func (b *bot) enter(ctx context.Context) error {
	switch {
	case b.opts.join != "":
		if err := b.coord.JoinRoom(ctx, b.opts.join); err != nil {
			return fmt.Errorf("join %s: %w", b.opts.join, err)
		}
		b.logger.Info("joined room", "room", strings.ToUpper(b.opts.join))
		b.entered = true
	case b.opts.acceptInvites:
		b.logger.Info("waiting for a squad invite", "id", b.coord.Self().ID)
	default:
		code, err := b.coord.CreateRoom(ctx, game.RoomConfig{
			MaxRounds:  b.opts.rounds,
			Difficulty: domain.Difficulty(b.opts.difficulty),
			GameMode:   domain.GameMode(b.opts.mode),
			Topic:      b.opts.topic,
		})
		if err != nil {
			return fmt.Errorf("create room: %w", err)
		}
		b.logger.Info("room created", "room", code, "join", strings.TrimRight(b.opts.relay, "/")+"/api/rooms/"+code+"/qr")
		for _, id := range b.opts.invite {
			if err := b.coord.SendInvite(ctx, id); err != nil {
				b.logger.Warn("invite failed", "to", id, "error", err)
			}
		}
		b.entered = true
	}
	return nil
}

// step reacts to one state snapshot. It reports true when the bot is done.
func (b *bot) step(ctx context.Context, s domain.GameState) (bool, error) {
	switch s.View {
	case domain.ViewWelcome:
		if !b.entered {
			return false, b.acceptInvite(ctx)
		}
		b.logger.Info("room closed")
		return true, nil
	case domain.ViewLobby:
		if b.coord.IsHost() && len(s.Players) >= b.opts.squad {
			err := b.coord.StartGame(ctx)
			if err != nil && !errors.Is(err, domain.ErrInvalidPhase) {
				return false, err
			}
		}
	case domain.ViewPlaying:
		b.play(ctx, s)
	case domain.ViewGameOver:
		b.report(s)
		return true, nil
	}
	return false, nil
}

func (b *bot) acceptInvite(ctx context.Context) error {
	invites := b.coord.PendingInvites()
	if len(invites) == 0 {
		return nil
	}
	inv := invites[len(invites)-1]
	if err := b.coord.AcceptInvite(ctx, inv.RoomCode); err != nil {
		b.logger.Warn("invite expired", "room", inv.RoomCode, "from", inv.SenderName, "error", err)
		return nil
	}
	b.logger.Info("accepted invite", "room", inv.RoomCode, "from", inv.SenderName)
	b.entered = true
	return nil
}

func (b *bot) play(ctx context.Context, s domain.GameState) {
	idx := game.IndexOf(s.Players, b.coord.Self().ID)
	if idx < 0 {
		return
	}
	me := s.Players[idx]

	if s.Phase == domain.PhaseQuestion && !me.HasAnswered && !me.Eliminated() && b.answered < s.CurrentRound && s.CurrentQuestion != nil {
		b.answered = s.CurrentRound
		b.pause(ctx)
		choice := b.choose(*s.CurrentQuestion)
		if err := b.coord.SubmitAnswer(ctx, choice); err != nil {
			b.logger.Warn("answer rejected", "round", s.CurrentRound, "error", err)
		}
		return
	}

	if !b.coord.IsHost() || !game.AllAnswered(s.Players) || b.advanced >= s.CurrentRound {
		return
	}
	switch s.Phase {
	case domain.PhaseResults:
		b.pause(ctx)
		if err := b.coord.ShowLeaderboard(ctx); err != nil {
			b.logger.Debug("leaderboard", "error", err)
		}
	case domain.PhaseLeaderboard:
		b.advanced = s.CurrentRound
		b.pause(ctx)
		if err := b.coord.AdvanceRound(ctx); err != nil {
			b.logger.Warn("advance failed", "round", s.CurrentRound, "error", err)
			b.advanced--
		}
	}
}

func (b *bot) choose(q domain.StoryNode) int {
	if len(q.Choices) < 2 {
		return 0
	}
	if q.CorrectAnswerIndex < 0 || q.CorrectAnswerIndex >= len(q.Choices) {
		return b.rnd.Intn(len(q.Choices))
	}
	if b.rnd.Float64() < b.opts.accuracy {
		return q.CorrectAnswerIndex
	}
	wrong := b.rnd.Intn(len(q.Choices) - 1)
	if wrong >= q.CorrectAnswerIndex {
		wrong++
	}
	return wrong
}

func (b *bot) pause(ctx context.Context) {
	select {
	case <-time.After(b.opts.think):
	case <-ctx.Done():
	}
}

func (b *bot) report(s domain.GameState) {
	players := append([]domain.Player(nil), s.Players...)
	sort.SliceStable(players, func(i, j int) bool { return players[i].Score > players[j].Score })
	for i, p := range players {
		b.logger.Info("final standing", "place", i+1, "name", p.Name, "score", p.Score, "hp", p.HP)
	}
}
