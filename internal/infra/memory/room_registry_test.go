package memory

import (
	"context"
	"testing"
)

func TestRoomRegistryLifecycle(t *testing.T) {
	reg := NewRoomRegistry()
	ctx := context.Background()

	if n, _ := reg.Acquire(ctx, "AB12"); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}
	if n, _ := reg.Acquire(ctx, "AB12"); n != 2 {
		t.Fatalf("expected 2 subscribers, got %d", n)
	}
	if n, _ := reg.Release(ctx, "AB12"); n != 1 {
		t.Fatalf("expected 1 subscriber after release, got %d", n)
	}
	if n, _ := reg.Release(ctx, "AB12"); n != 0 {
		t.Fatalf("expected room empty, got %d", n)
	}
	if _, ok := reg.rooms["AB12"]; ok {
		t.Fatalf("expected empty room removed")
	}
	if n, _ := reg.Release(ctx, "AB12"); n != 0 {
		t.Fatalf("release of unknown room should stay at 0, got %d", n)
	}
	if n, _ := reg.Live(ctx, "ZZZZ"); n != 0 {
		t.Fatalf("expected unknown room dead, got %d", n)
	}
}
