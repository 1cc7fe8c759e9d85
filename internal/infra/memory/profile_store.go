package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"quiz-squad/internal/domain"
)

// ProfileStore keeps profiles and friendships in process memory.
type ProfileStore struct {
	clock func() time.Time

	mu       sync.RWMutex
	profiles map[string]domain.Profile
	friends  map[string]map[string]struct{}
}

func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		clock:    time.Now,
		profiles: make(map[string]domain.Profile),
		friends:  make(map[string]map[string]struct{}),
	}
}

// UpsertProfile creates or renames a profile. Score and wins are kept.
func (s *ProfileStore) UpsertProfile(_ context.Context, p domain.Profile) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.profiles[p.ID]
	if ok {
		existing.Name = p.Name
		existing.Avatar = p.Avatar
		p = existing
	} else {
		p.Score, p.Wins = 0, 0
	}
	p.UpdatedAt = s.clock()
	s.profiles[p.ID] = p
	return p, nil
}

func (s *ProfileStore) FetchProfile(_ context.Context, id string) (domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return domain.Profile{}, domain.ErrProfileNotFound
	}
	return p, nil
}

// FetchRanking orders by score, then wins, then name.
func (s *ProfileStore) FetchRanking(_ context.Context, limit int) ([]domain.RankingEntry, error) {
	s.mu.RLock()
	entries := make([]domain.RankingEntry, 0, len(s.profiles))
	for _, p := range s.profiles {
		entries = append(entries, domain.RankingEntry{ID: p.ID, Name: p.Name, Score: p.Score, Wins: p.Wins})
	}
	s.mu.RUnlock()

	slices.SortFunc(entries, func(a, b domain.RankingEntry) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Wins, a.Wins); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// AddFriend links two existing profiles both ways.
func (s *ProfileStore) AddFriend(_ context.Context, userID, friendID string) error {
	if userID == friendID {
		return domain.ErrSelfFriend
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[userID]; !ok {
		return domain.ErrProfileNotFound
	}
	if _, ok := s.profiles[friendID]; !ok {
		return domain.ErrProfileNotFound
	}
	s.link(userID, friendID)
	s.link(friendID, userID)
	return nil
}

func (s *ProfileStore) link(a, b string) {
	set, ok := s.friends[a]
	if !ok {
		set = make(map[string]struct{})
		s.friends[a] = set
	}
	set[b] = struct{}{}
}

func (s *ProfileStore) FetchFriends(_ context.Context, userID string) ([]domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Profile, 0, len(s.friends[userID]))
	for id := range s.friends[userID] {
		if p, ok := s.profiles[id]; ok {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Profile) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

// RecordResult adds a finished game to a profile's totals.
func (s *ProfileStore) RecordResult(_ context.Context, userID string, score int, won bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return domain.ErrProfileNotFound
	}
	p.Score += int64(score)
	if won {
		p.Wins++
	}
	p.UpdatedAt = s.clock()
	s.profiles[userID] = p
	return nil
}
