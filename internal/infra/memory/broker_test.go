package memory

import (
	"context"
	"testing"
	"time"

	"quiz-squad/internal/pubsub"
)

func TestBrokerDeliversToEverySubscriber(t *testing.T) {
	ctx := context.Background()
	broker := NewBroker(4)
	defer broker.Close()

	a, err := broker.Subscribe(ctx, "room-ABCD")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	b, err := broker.Subscribe(ctx, "room-ABCD")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	other, err := broker.Subscribe(ctx, "room-ZZZZ")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	env, _ := pubsub.NewEnvelope("room-ABCD", "CHAT_MESSAGE", "u1", map[string]string{"text": "hi"}, time.Now())
	if err := broker.Publish(ctx, env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, sub := range []pubsub.Subscription{a, b} {
		select {
		case got := <-sub.Messages():
			if got.Sender != "u1" || got.Event != "CHAT_MESSAGE" {
				t.Fatalf("unexpected envelope %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatalf("expected delivery")
		}
	}
	select {
	case got := <-other.Messages():
		t.Fatalf("unexpected delivery on other channel: %+v", got)
	default:
	}
}

func TestBrokerDropsOldestForSlowSubscriber(t *testing.T) {
	ctx := context.Background()
	broker := NewBroker(1)
	defer broker.Close()

	sub, _ := broker.Subscribe(ctx, "room-ABCD")
	first, _ := pubsub.NewEnvelope("room-ABCD", "SYNC_STATE", "h", map[string]int{"n": 1}, time.Now())
	second, _ := pubsub.NewEnvelope("room-ABCD", "SYNC_STATE", "h", map[string]int{"n": 2}, time.Now())
	_ = broker.Publish(ctx, first)
	_ = broker.Publish(ctx, second)

	got := <-sub.Messages()
	if string(got.Payload) != `{"n":2}` {
		t.Fatalf("expected newest payload, got %s", got.Payload)
	}
}

func TestBrokerSubscriptionClose(t *testing.T) {
	ctx := context.Background()
	broker := NewBroker(0)

	sub, _ := broker.Subscribe(ctx, "user-u1")
	if n := broker.Subscribers("user-u1"); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-sub.Messages(); ok {
		t.Fatalf("expected closed channel")
	}
	if n := broker.Subscribers("user-u1"); n != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n)
	}
	// second close is a no-op
	_ = sub.Close()
}
