package memory

import (
	"context"
	"errors"
	"testing"

	"quiz-squad/internal/domain"
)

func TestProfileStoreUpsertKeepsTotals(t *testing.T) {
	store := NewProfileStore()
	ctx := context.Background()

	if _, err := store.UpsertProfile(ctx, domain.Profile{ID: "u1", Name: "Ana", Score: 9000}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.RecordResult(ctx, "u1", 300, true); err != nil {
		t.Fatalf("record: %v", err)
	}
	p, err := store.UpsertProfile(ctx, domain.Profile{ID: "u1", Name: "Ana Clara", Avatar: "🔥"})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if p.Name != "Ana Clara" || p.Avatar != "🔥" || p.Score != 300 || p.Wins != 1 {
		t.Fatalf("unexpected profile %+v", p)
	}

	if _, err := store.FetchProfile(ctx, "missing"); !errors.Is(err, domain.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
	if err := store.RecordResult(ctx, "guest-1", 100, false); !errors.Is(err, domain.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound for guest, got %v", err)
	}
}

func TestProfileStoreRanking(t *testing.T) {
	store := NewProfileStore()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := store.UpsertProfile(ctx, domain.Profile{ID: id, Name: "player " + id}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	_ = store.RecordResult(ctx, "a", 200, false)
	_ = store.RecordResult(ctx, "b", 500, true)
	_ = store.RecordResult(ctx, "c", 200, true)

	ranking, err := store.FetchRanking(ctx, 2)
	if err != nil {
		t.Fatalf("ranking: %v", err)
	}
	if len(ranking) != 2 || ranking[0].ID != "b" || ranking[1].ID != "c" {
		t.Fatalf("unexpected ranking %+v", ranking)
	}
}

func TestProfileStoreFriendsAreMutual(t *testing.T) {
	store := NewProfileStore()
	ctx := context.Background()
	_, _ = store.UpsertProfile(ctx, domain.Profile{ID: "a", Name: "Ana"})
	_, _ = store.UpsertProfile(ctx, domain.Profile{ID: "b", Name: "Bruno"})

	if err := store.AddFriend(ctx, "a", "b"); err != nil {
		t.Fatalf("add friend: %v", err)
	}
	if err := store.AddFriend(ctx, "a", "b"); err != nil {
		t.Fatalf("add friend twice: %v", err)
	}
	friends, _ := store.FetchFriends(ctx, "b")
	if len(friends) != 1 || friends[0].ID != "a" {
		t.Fatalf("expected a as friend of b, got %+v", friends)
	}
	if err := store.AddFriend(ctx, "a", "a"); !errors.Is(err, domain.ErrSelfFriend) {
		t.Fatalf("expected ErrSelfFriend, got %v", err)
	}
	if err := store.AddFriend(ctx, "a", "nobody"); !errors.Is(err, domain.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}
