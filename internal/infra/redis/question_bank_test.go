package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quiz-squad/internal/domain"
	"quiz-squad/internal/infra/memory"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func TestQuestionBankCachesInRedis(t *testing.T) {
	mr, client := newClient(t)

	loader := &countingLoader{
		QuestionLoader: memory.NewStaticQuestionLoader(map[string][]domain.StoryNode{
			"Free Fire": sampleQuestions(),
		}),
	}
	bank := NewQuestionBank(client, loader, time.Minute)

	got, err := bank.Questions(context.Background(), "free fire")
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if len(got) != 2 || got[0].CorrectAnswerIndex != 1 {
		t.Fatalf("unexpected questions %+v", got)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls.Load())
	}
	if !mr.Exists("questions:free fire") {
		t.Fatalf("expected redis list to be written")
	}
	if ttl := mr.TTL("questions:free fire"); ttl < time.Minute {
		t.Fatalf("expected ttl with jitter >= 1m, got %v", ttl)
	}

	// second call should hit the cache
	cached, err := bank.Questions(context.Background(), "Free Fire")
	if err != nil {
		t.Fatalf("questions 2: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls.Load())
	}
	if cached[1].Choices[0] != "Verdadeiro" {
		t.Fatalf("cached question lost its choices: %+v", cached[1])
	}

	if err := bank.Invalidate(context.Background(), "free fire"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if mr.Exists("questions:free fire") {
		t.Fatalf("expected redis list removed")
	}
}

func TestQuestionBankMissPropagatesLoaderError(t *testing.T) {
	_, client := newClient(t)
	bank := NewQuestionBank(client, memory.NewStaticQuestionLoader(nil), time.Minute)
	if _, err := bank.Questions(context.Background(), "nada"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
}

type countingLoader struct {
	QuestionLoader
	calls atomic.Int32
}

func (l *countingLoader) LoadQuestions(ctx context.Context, topic string) ([]domain.StoryNode, error) {
	l.calls.Add(1)
	return l.QuestionLoader.LoadQuestions(ctx, topic)
}

func sampleQuestions() []domain.StoryNode {
	return []domain.StoryNode{
		{Text: "Qual personagem tem a habilidade Chrono?", Choices: []string{"Alok", "Chrono", "Kelly", "Hayato"}, CorrectAnswerIndex: 1},
		{Text: "Bermuda é um mapa do Free Fire?", Choices: []string{"Verdadeiro", "Falso"}, CorrectAnswerIndex: 0},
	}
}
