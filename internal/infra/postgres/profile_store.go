package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-squad/internal/domain"
)

// ProfileStore persists profiles, friendships and game totals.
type ProfileStore struct {
	pool *pgxpool.Pool
}

func NewProfileStore(pool *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{pool: pool}
}

func (s *ProfileStore) UpsertProfile(ctx context.Context, p domain.Profile) (domain.Profile, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO profiles (id, name, avatar, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, avatar = EXCLUDED.avatar, updated_at = now()
		RETURNING id, name, avatar, score, wins, updated_at`,
		p.ID, p.Name, p.Avatar)
	out, err := scanProfile(row)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("upsert profile: %w", mapError(err))
	}
	return out, nil
}

func (s *ProfileStore) FetchProfile(ctx context.Context, id string) (domain.Profile, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, avatar, score, wins, updated_at
		FROM profiles WHERE id = $1`, id)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Profile{}, domain.ErrProfileNotFound
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("fetch profile: %w", mapError(err))
	}
	return p, nil
}

func (s *ProfileStore) FetchRanking(ctx context.Context, limit int) ([]domain.RankingEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, score, wins
		FROM profiles
		ORDER BY score DESC, wins DESC, name ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch ranking: %w", mapError(err))
	}
	defer rows.Close()

	var out []domain.RankingEntry
	for rows.Next() {
		var e domain.RankingEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.Score, &e.Wins); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch ranking: %w", mapError(err))
	}
	return out, nil
}

// AddFriend stores the friendship in both directions in one transaction.
func (s *ProfileStore) AddFriend(ctx context.Context, userID, friendID string) error {
	if userID == friendID {
		return domain.ErrSelfFriend
	}
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		var found int
		err := tx.QueryRow(ctx, `SELECT count(*) FROM profiles WHERE id = ANY($1)`, []string{userID, friendID}).Scan(&found)
		if err != nil {
			return err
		}
		if found != 2 {
			return domain.ErrProfileNotFound
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO friendships (user_id, friend_id)
			VALUES ($1, $2), ($2, $1)
			ON CONFLICT DO NOTHING`, userID, friendID)
		return err
	})
	if errors.Is(err, domain.ErrProfileNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("add friend: %w", mapError(err))
	}
	return nil
}

func (s *ProfileStore) FetchFriends(ctx context.Context, userID string) ([]domain.Profile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.name, p.avatar, p.score, p.wins, p.updated_at
		FROM friendships f
		JOIN profiles p ON p.id = f.friend_id
		WHERE f.user_id = $1
		ORDER BY p.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch friends: %w", mapError(err))
	}
	defer rows.Close()

	var out []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch friends: %w", mapError(err))
	}
	return out, nil
}

func (s *ProfileStore) RecordResult(ctx context.Context, userID string, score int, won bool) error {
	wins := 0
	if won {
		wins = 1
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE profiles
		SET score = score + $2, wins = wins + $3, updated_at = now()
		WHERE id = $1`, userID, score, wins)
	if err != nil {
		return fmt.Errorf("record result: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProfileNotFound
	}
	return nil
}

func scanProfile(row pgx.Row) (domain.Profile, error) {
	var p domain.Profile
	err := row.Scan(&p.ID, &p.Name, &p.Avatar, &p.Score, &p.Wins, &p.UpdatedAt)
	return p, err
}
