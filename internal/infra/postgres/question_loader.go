package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-squad/internal/domain"
)

// QuestionLoader loads stored questions (JSONB) for a topic from Postgres.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadQuestions(ctx context.Context, topic string) ([]domain.StoryNode, error) {
	rows, err := l.pool.Query(ctx, `SELECT data FROM question_bank WHERE topic = $1 ORDER BY id`, domain.TopicKey(topic))
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", mapError(err))
	}
	defer rows.Close()

	var out []domain.StoryNode
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		var q domain.StoryNode
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, fmt.Errorf("unmarshal question: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load questions: %w", mapError(err))
	}
	if len(out) == 0 {
		return nil, domain.ErrQuestionNotFound
	}
	return out, nil
}

// SaveQuestion adds q to the bank under topic.
func (l *QuestionLoader) SaveQuestion(ctx context.Context, topic string, q domain.StoryNode) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal question: %w", err)
	}
	if _, err := l.pool.Exec(ctx, `INSERT INTO question_bank (topic, data) VALUES ($1, $2)`, domain.TopicKey(topic), data); err != nil {
		return fmt.Errorf("save question: %w", mapError(err))
	}
	return nil
}
