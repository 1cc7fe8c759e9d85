package app_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"quiz-squad/internal/app"
	"quiz-squad/internal/domain"
	"quiz-squad/internal/infra/memory"
)

func TestProfileServiceUpdateValidatesName(t *testing.T) {
	svc := app.NewProfileService(memory.NewProfileStore(), nil)
	ctx := context.Background()

	p, err := svc.UpdateProfile(ctx, "u1", "  Ana  ", "🐺")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.Name != "Ana" || p.Avatar != "🐺" {
		t.Fatalf("unexpected profile %+v", p)
	}
	if _, err := svc.UpdateProfile(ctx, "u1", "   ", ""); !errors.Is(err, app.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, "u1", "Um nome comprido demais para o squad", ""); !errors.Is(err, app.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName for long name, got %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, "", "Ana", ""); !errors.Is(err, domain.ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
}

func TestProfileServiceRecordsResultsSkippingGuests(t *testing.T) {
	store := memory.NewProfileStore()
	svc := app.NewProfileService(store, nil)
	ctx := context.Background()
	_, _ = svc.UpdateProfile(ctx, "u1", "Ana", "")

	if err := svc.RecordResult(ctx, "u1", 400, true); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := svc.RecordResult(ctx, "guest-1", 200, false); err != nil {
		t.Fatalf("guest result should be skipped, got %v", err)
	}

	ranking, err := svc.Ranking(ctx, 0)
	if err != nil {
		t.Fatalf("ranking: %v", err)
	}
	if len(ranking) != 1 || ranking[0].Score != 400 || ranking[0].Wins != 1 {
		t.Fatalf("unexpected ranking %+v", ranking)
	}
}

func TestProfileServiceFriends(t *testing.T) {
	svc := app.NewProfileService(memory.NewProfileStore(), nil)
	ctx := context.Background()
	_, _ = svc.UpdateProfile(ctx, "a", "Ana", "")
	_, _ = svc.UpdateProfile(ctx, "b", "Bruno", "")

	if err := svc.AddFriend(ctx, "a", " b "); err != nil {
		t.Fatalf("add friend: %v", err)
	}
	friends, err := svc.Friends(ctx, "a")
	if err != nil || len(friends) != 1 || friends[0].ID != "b" {
		t.Fatalf("unexpected friends %+v (%v)", friends, err)
	}
	if err := svc.AddFriend(ctx, "a", "ghost"); !errors.Is(err, domain.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestProfileServiceDegradesListReads(t *testing.T) {
	ctx := context.Background()

	missing := app.NewProfileService(failingStore{err: fmt.Errorf("fetch: %w", domain.ErrSetupRequired)}, nil)
	ranking, err := missing.Ranking(ctx, 10)
	if !errors.Is(err, domain.ErrSetupRequired) {
		t.Fatalf("expected ErrSetupRequired, got %v", err)
	}
	if ranking == nil || len(ranking) != 0 {
		t.Fatalf("expected empty ranking, got %#v", ranking)
	}

	broken := app.NewProfileService(failingStore{err: errors.New("connection refused")}, nil)
	friends, err := broken.Friends(ctx, "a")
	if err != nil {
		t.Fatalf("expected degraded read without error, got %v", err)
	}
	if friends == nil || len(friends) != 0 {
		t.Fatalf("expected empty friends, got %#v", friends)
	}
}

type failingStore struct {
	app.ProfileStore
	err error
}

func (f failingStore) FetchRanking(context.Context, int) ([]domain.RankingEntry, error) {
	return nil, f.err
}

func (f failingStore) FetchFriends(context.Context, string) ([]domain.Profile, error) {
	return nil, f.err
}
