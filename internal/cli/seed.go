package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"quiz-squad/internal/config"
	"quiz-squad/internal/domain"
	"quiz-squad/internal/game"
	"quiz-squad/internal/infra/postgres"
	redisinfra "quiz-squad/internal/infra/redis"
)

// questionFile is the YAML layout accepted by the seed command:
//
//	topics:
//	  free fire:
//	    - text: "..."
//	      choices: ["a", "b", "c", "d"]
//	      answer: 1
type questionFile struct {
	Topics map[string][]struct {
		Text     string   `yaml:"text"`
		Choices  []string `yaml:"choices"`
		Answer   int      `yaml:"answer"`
		ImageURL string   `yaml:"image_url"`
	} `yaml:"topics"`
}

// NewSeedCmd imports bank questions from a YAML file into Postgres.
func NewSeedCmd(flags *rootFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import question bank entries from YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			return runSeed(cmd.Context(), cfg, file, newLogger(cfg.Log.Level))
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "config/questions.yaml", "question file to import")
	return cmd
}

func runSeed(ctx context.Context, cfg config.Config, path string, logger *slog.Logger) error {
	if cfg.Postgres.URL == "" {
		return errors.New("postgres url not configured")
	}
	set, err := readQuestionFile(path)
	if err != nil {
		return err
	}

	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	loader := postgres.NewQuestionLoader(pool)

	var cache *redisinfra.QuestionBank
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		cache = redisinfra.NewQuestionBank(client, loader, 0)
	}

	for topic, questions := range set {
		for _, q := range questions {
			if err := loader.SaveQuestion(ctx, topic, q); err != nil {
				return fmt.Errorf("save %q question: %w", topic, err)
			}
		}
		if cache != nil {
			if err := cache.Invalidate(ctx, topic); err != nil {
				logger.Warn("question cache invalidate failed", "topic", topic, "error", err)
			}
		}
		logger.Info("questions imported", "topic", domain.TopicKey(topic), "count", len(questions))
	}
	return nil
}

// readQuestionFile parses and validates every entry. Two choices make a
// true/false question, four a quiz question.
func readQuestionFile(path string) (map[string][]domain.StoryNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file questionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make(map[string][]domain.StoryNode, len(file.Topics))
	for topic, entries := range file.Topics {
		for i, e := range entries {
			q := domain.StoryNode{Text: e.Text, Choices: e.Choices, CorrectAnswerIndex: e.Answer, ImageURL: e.ImageURL}
			mode := domain.ModeQuiz
			if len(e.Choices) == domain.ModeTrueFalse.ChoiceCount() {
				mode = domain.ModeTrueFalse
			}
			if err := game.ValidateQuestion(q, mode); err != nil {
				return nil, fmt.Errorf("%s entry %d: %w", topic, i+1, err)
			}
			out[topic] = append(out[topic], q)
		}
	}
	return out, nil
}
