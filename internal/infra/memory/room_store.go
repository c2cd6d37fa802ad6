package memory

import (
	"context"
	"sync"

	"quizroom-service/internal/domain"
)

// RoomStore is an in-process implementation of app.RoomStore. Updates are
// serialized under a mutex, so the read-modify-write of a mutation commits
// atomically, and every committed snapshot is pushed to live subscribers.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*roomEntry
}

type roomEntry struct {
	room        domain.Room
	subscribers map[chan domain.Room]struct{}
}

func NewRoomStore() *RoomStore {
	return &RoomStore{rooms: make(map[string]*roomEntry)}
}

func (s *RoomStore) Create(_ context.Context, room domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.Code]; ok {
		return domain.ErrRoomExists
	}
	s.rooms[room.Code] = &roomEntry{
		room:        room.Clone(),
		subscribers: make(map[chan domain.Room]struct{}),
	}
	return nil
}

func (s *RoomStore) Get(_ context.Context, code string) (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.rooms[code]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return entry.room.Clone(), nil
}

func (s *RoomStore) Update(_ context.Context, code string, mutate func(*domain.Room) error) (domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.rooms[code]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}

	room := entry.room.Clone()
	if err := mutate(&room); err != nil {
		return domain.Room{}, err
	}
	entry.room = room
	s.broadcastLocked(entry)
	return room.Clone(), nil
}

func (s *RoomStore) Subscribe(_ context.Context, code string) (<-chan domain.Room, func(), error) {
	s.mu.Lock()
	entry, ok := s.rooms[code]
	if !ok {
		s.mu.Unlock()
		return nil, nil, domain.ErrRoomNotFound
	}
	ch := make(chan domain.Room, 8)
	entry.subscribers[ch] = struct{}{}
	// Enqueue the initial snapshot before releasing the lock so a concurrent
	// Update cannot broadcast a newer document ahead of it. The channel is
	// fresh and buffered, so this never blocks.
	ch <- entry.room.Clone()
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := entry.subscribers[ch]; ok {
			delete(entry.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel, nil
}

func (s *RoomStore) broadcastLocked(entry *roomEntry) {
	snapshot := entry.room.Clone()
	for ch := range entry.subscribers {
		select {
		case ch <- snapshot:
		default:
			// Drop the stale snapshot so a slow subscriber cannot block
			// everyone else; it only ever needs the latest document.
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		}
	}
}
