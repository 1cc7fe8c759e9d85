package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quiz-squad/internal/app"
	"quiz-squad/internal/config"
	"quiz-squad/internal/domain"
	"quiz-squad/internal/game"
	amqpbroker "quiz-squad/internal/infra/amqp"
	"quiz-squad/internal/infra/gemini"
	"quiz-squad/internal/infra/memory"
	"quiz-squad/internal/infra/postgres"
	redisinfra "quiz-squad/internal/infra/redis"
	"quiz-squad/internal/identity"
	"quiz-squad/internal/pubsub"
	transport "quiz-squad/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the relay server.
func NewStartCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, newLogger(cfg.Log.Level))
		},
	}
}

// closers run in reverse order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func runServer(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup closers
	defer cleanup.run()

	if cfg.Postgres.URL != "" && cfg.Postgres.Migrate {
		if err := runMigrations(ctx, cfg, logger); err != nil {
			return err
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cleanup.add(func() { _ = redisClient.Close() })
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		var err error
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		cleanup.add(pool.Close)
	}

	broker, err := newBroker(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	cleanup.add(func() { _ = broker.Close() })

	var rooms app.RoomRegistry = memory.NewRoomRegistry()
	if redisClient != nil {
		rooms = redisinfra.NewRoomRegistry(redisClient, config.TTLDuration(cfg.Redis.RoomTTL, 6*time.Hour))
	}

	var profiles app.ProfileStore = memory.NewProfileStore()
	if pool != nil {
		profiles = postgres.NewProfileStore(pool)
	}

	questions, err := newQuestionService(ctx, cfg, pool, redisClient, logger)
	if err != nil {
		return err
	}

	tokens, err := identity.NewTokenIssuer(cfg.Auth.Secret, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour))
	if err != nil {
		return err
	}

	router := transport.NewRouter(transport.Deps{
		Relay:          app.NewRelayService(broker, rooms, logger),
		Profiles:       app.NewProfileService(profiles, logger),
		Questions:      questions,
		Accounts:       profiles,
		Tokens:         tokens,
		Logger:         logger,
		PublicURL:      cfg.Server.PublicURL,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting relay", "addr", cfg.Server.Addr, "broker", cfg.Broker.Backend,
			"postgres", pool != nil, "redis", redisClient != nil)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down relay")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newBroker(cfg config.Config, redisClient *redis.Client, logger *slog.Logger) (pubsub.Broker, error) {
	switch cfg.Broker.Backend {
	case config.BrokerRedis:
		return redisinfra.NewBroker(redisClient, cfg.Broker.Buffer, logger), nil
	case config.BrokerAMQP:
		b, err := amqpbroker.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.Broker.Buffer, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return memory.NewBroker(cfg.Broker.Buffer), nil
	}
}

// newQuestionService wires generator, bank and placeholder. Without Postgres
// the bank serves the built-in sample set.
func newQuestionService(ctx context.Context, cfg config.Config, pool *pgxpool.Pool, redisClient *redis.Client, logger *slog.Logger) (*app.QuestionService, error) {
	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestions())
	if pool != nil {
		loader = postgres.NewQuestionLoader(pool)
	}

	ttl := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)
	var bank app.QuestionBank
	if redisClient != nil {
		bank = redisinfra.NewQuestionBank(redisClient, loader, ttl)
	} else {
		bank = memory.NewQuestionBank(loader, ttl)
	}

	var generator game.QuestionGenerator
	if cfg.GenAI.APIKey != "" {
		g, err := gemini.New(ctx, gemini.Config{
			APIKey:     cfg.GenAI.APIKey,
			TextModel:  cfg.GenAI.TextModel,
			ImageModel: cfg.GenAI.ImageModel,
			Images:     cfg.GenAI.Images,
		}, logger)
		if err != nil {
			return nil, err
		}
		generator = g
	} else {
		logger.Warn("genai api key not set, questions come from the bank")
	}

	timeout := config.TTLDuration(cfg.GenAI.Timeout, 20*time.Second)
	return app.NewQuestionService(generator, bank, timeout, logger), nil
}

// sampleQuestions keeps a relay without Postgres playable.
func sampleQuestions() map[string][]domain.StoryNode {
	return map[string][]domain.StoryNode{
		domain.GeneralTopic: {
			{
				Text:               "Qual arma é um rifle de precisão?",
				Choices:            []string{"MP40", "AWM", "M1014", "UMP"},
				CorrectAnswerIndex: 1,
			},
			{
				Text:               "Qual é o mapa clássico de Free Fire?",
				Choices:            []string{"Bermuda", "Erangel", "Verdansk", "Livik"},
				CorrectAnswerIndex: 0,
			},
			{
				Text:               "Colete nível 3 protege mais que o nível 1?",
				Choices:            []string{"Verdadeiro", "Falso"},
				CorrectAnswerIndex: 0,
			},
			{
				Text:               "Granadas de gelo causam dano alto?",
				Choices:            []string{"Verdadeiro", "Falso"},
				CorrectAnswerIndex: 1,
			},
		},
	}
}
