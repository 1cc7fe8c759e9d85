package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-squad/internal/domain"
)

// QuestionLoader fetches the stored questions for a topic from a backing store.
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, topic string) ([]domain.StoryNode, error)
}

// QuestionBank caches topic question sets in Redis and falls back to a loader on miss.
// Each topic is a list of JSON encoded questions: RPUSH questions:{topic} {json}...
type QuestionBank struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuestionBank(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *QuestionBank) Questions(ctx context.Context, topic string) ([]domain.StoryNode, error) {
	key := domain.TopicKey(topic)
	if questions, ok := b.cached(ctx, key); ok {
		return questions, nil
	}

	result, err, _ := b.sf.Do(key, func() (interface{}, error) {
		// another caller may have filled the cache while we waited
		if questions, ok := b.cached(ctx, key); ok {
			return questions, nil
		}

		questions, err := b.loader.LoadQuestions(ctx, key)
		if err != nil {
			return nil, err
		}
		b.store(ctx, key, questions)
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.StoryNode), nil
}

// Invalidate removes the cached set for topic.
func (b *QuestionBank) Invalidate(ctx context.Context, topic string) error {
	return b.client.Del(ctx, b.key(domain.TopicKey(topic))).Err()
}

func (b *QuestionBank) cached(ctx context.Context, key string) ([]domain.StoryNode, bool) {
	raw, err := b.client.LRange(ctx, b.key(key), 0, -1).Result()
	if err != nil || len(raw) == 0 {
		return nil, false
	}
	questions := make([]domain.StoryNode, 0, len(raw))
	for _, item := range raw {
		var q domain.StoryNode
		if err := json.Unmarshal([]byte(item), &q); err != nil {
			// a corrupt entry forces a reload
			return nil, false
		}
		questions = append(questions, q)
	}
	return questions, true
}

func (b *QuestionBank) store(ctx context.Context, key string, questions []domain.StoryNode) {
	if len(questions) == 0 {
		return
	}
	items := make([]interface{}, 0, len(questions))
	for _, q := range questions {
		data, err := json.Marshal(q)
		if err != nil {
			return
		}
		items = append(items, data)
	}

	redisKey := b.key(key)
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, redisKey)
	pipe.RPush(ctx, redisKey, items...)
	if ttl := b.ttlWithJitter(); ttl > 0 {
		pipe.Expire(ctx, redisKey, ttl)
	}
	// caching is best effort; the loader result is still returned
	_, _ = pipe.Exec(ctx)
}

func (b *QuestionBank) key(topic string) string {
	return fmt.Sprintf("questions:%s", topic)
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	jitterMax := int64(b.ttl) / 10
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}
