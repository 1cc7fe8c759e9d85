package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-squad/internal/domain"
)

// QuestionLoader fetches the stored questions for a topic from a backing store.
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, topic string) ([]domain.StoryNode, error)
}

// QuestionBank caches topic question sets with TTL to avoid repeated DB hits.
type QuestionBank struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedQuestions
}

type cachedQuestions struct {
	questions []domain.StoryNode
	expiresAt time.Time
}

func NewQuestionBank(loader QuestionLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuestions),
	}
}

func (b *QuestionBank) Questions(ctx context.Context, topic string) ([]domain.StoryNode, error) {
	key := domain.TopicKey(topic)
	if questions, ok := b.lookup(key); ok {
		return questions, nil
	}

	result, err, _ := b.sf.Do(key, func() (interface{}, error) {
		if questions, ok := b.lookup(key); ok {
			return questions, nil
		}

		questions, err := b.loader.LoadQuestions(ctx, key)
		if err != nil {
			return nil, err
		}

		expiresAt := b.clock().Add(b.ttlWithJitter())
		b.mu.Lock()
		b.cache[key] = cachedQuestions{questions: questions, expiresAt: expiresAt}
		b.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.StoryNode), nil
}

// Invalidate drops the cached set for topic so the next read reloads it.
func (b *QuestionBank) Invalidate(topic string) {
	b.mu.Lock()
	delete(b.cache, domain.TopicKey(topic))
	b.mu.Unlock()
}

func (b *QuestionBank) lookup(key string) ([]domain.StoryNode, bool) {
	now := b.clock()
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.cache[key]
	if !ok || !entry.expiresAt.After(now) {
		return nil, false
	}
	return entry.questions, true
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	// up to 10% jitter spreads expirations of topics loaded together
	jitterMax := int64(b.ttl) / 10
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader serves a fixed topic map (demos and tests).
type StaticQuestionLoader struct {
	questions map[string][]domain.StoryNode
}

func NewStaticQuestionLoader(questions map[string][]domain.StoryNode) *StaticQuestionLoader {
	byKey := make(map[string][]domain.StoryNode, len(questions))
	for topic, set := range questions {
		key := domain.TopicKey(topic)
		byKey[key] = append(byKey[key], set...)
	}
	return &StaticQuestionLoader{questions: byKey}
}

func (l *StaticQuestionLoader) LoadQuestions(_ context.Context, topic string) ([]domain.StoryNode, error) {
	if set, ok := l.questions[domain.TopicKey(topic)]; ok && len(set) > 0 {
		return set, nil
	}
	return nil, domain.ErrQuestionNotFound
}
