package memory

import (
	"context"
	"sync"
)

// RoomRegistry counts live relay subscriptions per room code.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]int
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[string]int),
	}
}

// Acquire records one more subscriber on code and returns the new count.
func (r *RoomRegistry) Acquire(_ context.Context, code string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[code]++
	return r.rooms[code], nil
}

// Release drops one subscriber. Rooms are forgotten once empty.
func (r *RoomRegistry) Release(_ context.Context, code string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.rooms[code]
	if !ok {
		return 0, nil
	}
	if n <= 1 {
		delete(r.rooms, code)
		return 0, nil
	}
	r.rooms[code] = n - 1
	return n - 1, nil
}

func (r *RoomRegistry) Live(_ context.Context, code string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[code], nil
}
