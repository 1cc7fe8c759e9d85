package redis

import (
	"context"
	"testing"
	"time"
)

func TestRoomRegistryCountsAndClears(t *testing.T) {
	mr, client := newClient(t)
	reg := NewRoomRegistry(client, time.Minute)
	ctx := context.Background()

	if n, err := reg.Acquire(ctx, "AB12"); err != nil || n != 1 {
		t.Fatalf("acquire: %d %v", n, err)
	}
	if n, _ := reg.Acquire(ctx, "AB12"); n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
	if !mr.Exists("room:live:AB12") {
		t.Fatalf("expected redis key to be set")
	}
	if n, _ := reg.Live(ctx, "AB12"); n != 2 {
		t.Fatalf("expected live count 2, got %d", n)
	}

	_, _ = reg.Release(ctx, "AB12")
	if n, _ := reg.Release(ctx, "AB12"); n != 0 {
		t.Fatalf("expected 0, got %d", n)
	}
	if mr.Exists("room:live:AB12") {
		t.Fatalf("expected redis key to be removed")
	}
	if n, err := reg.Live(ctx, "AB12"); err != nil || n != 0 {
		t.Fatalf("expected dead room, got %d %v", n, err)
	}
}

func TestRoomRegistryExpires(t *testing.T) {
	mr, client := newClient(t)
	reg := NewRoomRegistry(client, time.Minute)
	ctx := context.Background()

	_, _ = reg.Acquire(ctx, "AB12")
	mr.FastForward(2 * time.Minute)
	if n, _ := reg.Live(ctx, "AB12"); n != 0 {
		t.Fatalf("expected stale room to expire, got %d", n)
	}
}
