package app

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"quiz-squad/internal/domain"
	"quiz-squad/internal/game"
)

// QuestionBank serves stored questions by topic.
type QuestionBank interface {
	Questions(ctx context.Context, topic string) ([]domain.StoryNode, error)
}

// QuestionService picks the question for a round: the generator first, then
// the bank, then the built-in placeholder. It never fails a round.
type QuestionService struct {
	generator game.QuestionGenerator
	bank      QuestionBank
	timeout   time.Duration
	logger    *slog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewQuestionService accepts a nil generator or bank.
func NewQuestionService(generator game.QuestionGenerator, bank QuestionBank, timeout time.Duration, logger *slog.Logger) *QuestionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuestionService{
		generator: generator,
		bank:      bank,
		timeout:   timeout,
		logger:    logger,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *QuestionService) GenerateQuestion(ctx context.Context, req domain.QuestionRequest) (domain.StoryNode, error) {
	if req.Mode == "" {
		req.Mode = domain.ModeQuiz
	}
	if q, ok := s.fromGenerator(ctx, req); ok {
		return q, nil
	}
	if q, ok := s.fromBank(ctx, req); ok {
		return q, nil
	}
	s.logger.Info("serving placeholder question", "round", req.Round, "mode", req.Mode)
	return game.PlaceholderQuestion(req.Mode), nil
}

func (s *QuestionService) fromGenerator(ctx context.Context, req domain.QuestionRequest) (domain.StoryNode, bool) {
	if s.generator == nil {
		return domain.StoryNode{}, false
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	q, err := s.generator.GenerateQuestion(ctx, req)
	if err != nil {
		s.logger.Warn("question generator failed", "round", req.Round, "error", err)
		return domain.StoryNode{}, false
	}
	if err := game.ValidateQuestion(q, req.Mode); err != nil {
		s.logger.Warn("generated question rejected", "round", req.Round, "error", err)
		return domain.StoryNode{}, false
	}
	return q, true
}

func (s *QuestionService) fromBank(ctx context.Context, req domain.QuestionRequest) (domain.StoryNode, bool) {
	if s.bank == nil {
		return domain.StoryNode{}, false
	}
	topics := []string{domain.TopicKey(req.Topic)}
	if topics[0] != domain.GeneralTopic {
		topics = append(topics, domain.GeneralTopic)
	}
	for _, topic := range topics {
		set, err := s.bank.Questions(ctx, topic)
		if err != nil {
			s.logger.Debug("question bank miss", "topic", topic, "error", err)
			continue
		}
		var fits []domain.StoryNode
		for _, q := range set {
			if game.ValidateQuestion(q, req.Mode) == nil {
				fits = append(fits, q)
			}
		}
		if len(fits) == 0 {
			continue
		}
		s.mu.Lock()
		q := fits[s.rnd.Intn(len(fits))]
		s.mu.Unlock()
		return q, true
	}
	return domain.StoryNode{}, false
}
