package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"quiz-squad/internal/domain"
)

const (
	DefaultRankingLimit = 50
	maxRankingLimit     = 100
	maxNameLength       = 24
)

// ProfileStore persists account profiles and friendships.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, p domain.Profile) (domain.Profile, error)
	FetchProfile(ctx context.Context, id string) (domain.Profile, error)
	FetchRanking(ctx context.Context, limit int) ([]domain.RankingEntry, error)
	AddFriend(ctx context.Context, userID, friendID string) error
	FetchFriends(ctx context.Context, userID string) ([]domain.Profile, error)
	RecordResult(ctx context.Context, userID string, score int, won bool) error
}

// ErrInvalidName is returned for empty or overlong display names.
var ErrInvalidName = errors.New("invalid display name")

// ProfileService contains the profile, ranking and friendship use cases.
// List reads never fail; a missing schema is still reported so the caller
// can tell the user setup is needed.
type ProfileService struct {
	store  ProfileStore
	logger *slog.Logger
}

func NewProfileService(store ProfileStore, logger *slog.Logger) *ProfileService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileService{store: store, logger: logger}
}

// UpdateProfile creates or renames the profile of id.
func (s *ProfileService) UpdateProfile(ctx context.Context, id, name, avatar string) (domain.Profile, error) {
	if id == "" {
		return domain.Profile{}, domain.ErrNoIdentity
	}
	name, err := ValidateName(name)
	if err != nil {
		return domain.Profile{}, err
	}
	return s.store.UpsertProfile(ctx, domain.Profile{ID: id, Name: name, Avatar: strings.TrimSpace(avatar)})
}

// ValidateName trims a display name and checks its length.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}

func (s *ProfileService) Profile(ctx context.Context, id string) (domain.Profile, error) {
	return s.store.FetchProfile(ctx, id)
}

// Ranking returns the top players. Store failures yield an empty list.
func (s *ProfileService) Ranking(ctx context.Context, limit int) ([]domain.RankingEntry, error) {
	if limit <= 0 {
		limit = DefaultRankingLimit
	}
	if limit > maxRankingLimit {
		limit = maxRankingLimit
	}
	entries, err := s.store.FetchRanking(ctx, limit)
	if err != nil {
		return []domain.RankingEntry{}, s.degrade("ranking", err)
	}
	if entries == nil {
		entries = []domain.RankingEntry{}
	}
	return entries, nil
}

// Friends returns the friends of id. Store failures yield an empty list.
func (s *ProfileService) Friends(ctx context.Context, id string) ([]domain.Profile, error) {
	friends, err := s.store.FetchFriends(ctx, id)
	if err != nil {
		return []domain.Profile{}, s.degrade("friends", err)
	}
	if friends == nil {
		friends = []domain.Profile{}
	}
	return friends, nil
}

func (s *ProfileService) AddFriend(ctx context.Context, userID, friendID string) error {
	friendID = strings.TrimSpace(friendID)
	if userID == "" {
		return domain.ErrNoIdentity
	}
	if err := s.store.AddFriend(ctx, userID, friendID); err != nil {
		return fmt.Errorf("add friend: %w", err)
	}
	return nil
}

// RecordResult adds a finished game to the player's totals. Guests have no
// profile and are skipped.
func (s *ProfileService) RecordResult(ctx context.Context, playerID string, score int, won bool) error {
	err := s.store.RecordResult(ctx, playerID, score, won)
	if errors.Is(err, domain.ErrProfileNotFound) {
		s.logger.Debug("skipping result for player without profile", "player", playerID)
		return nil
	}
	return err
}

func (s *ProfileService) degrade(what string, err error) error {
	if errors.Is(err, domain.ErrSetupRequired) {
		s.logger.Warn("profile store not set up, run migrate", "read", what)
		return domain.ErrSetupRequired
	}
	s.logger.Warn("profile read failed, returning empty list", "read", what, "error", err)
	return nil
}
