package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quizroom-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RoomStore keeps each room document as JSON under room:{code} and fans out
// committed snapshots over the room:{code}:events pub/sub channel.
//
// Update runs under WATCH so two clients racing on the participants array
// cannot lose each other's write: the later transaction fails and retries
// against the fresh document instead of clobbering it.
type RoomStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// updateRetries bounds the optimistic WATCH retry loop.
const updateRetries = 16

func NewRoomStore(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RoomStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomStore{client: client, ttl: ttl, logger: logger}
}

func (s *RoomStore) Create(ctx context.Context, room domain.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(room.Code), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	if !ok {
		return domain.ErrRoomExists
	}
	return nil
}

func (s *RoomStore) Get(ctx context.Context, code string) (domain.Room, error) {
	raw, err := s.client.Get(ctx, s.key(code)).Bytes()
	if err == redis.Nil {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("get room: %w", err)
	}
	return decodeRoom(raw)
}

func (s *RoomStore) Update(ctx context.Context, code string, mutate func(*domain.Room) error) (domain.Room, error) {
	key := s.key(code)
	var updated domain.Room

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return domain.ErrRoomNotFound
		}
		if err != nil {
			return err
		}
		room, err := decodeRoom(raw)
		if err != nil {
			return err
		}

		if err := mutate(&room); err != nil {
			return err
		}

		data, err := json.Marshal(room)
		if err != nil {
			return fmt.Errorf("marshal room: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			pipe.Publish(ctx, s.channel(code), data)
			return nil
		})
		if err == nil {
			updated = room
		}
		return err
	}

	for attempt := 0; attempt < updateRetries; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return domain.Room{}, err
		}
		return updated, nil
	}
	return domain.Room{}, fmt.Errorf("update room %s: too many concurrent writers", code)
}

// Subscribe delivers the current snapshot first, then every snapshot
// committed by Update, in commit order. When a client observes a given update
// relative to the committing client is up to the network.
func (s *RoomStore) Subscribe(ctx context.Context, code string) (<-chan domain.Room, func(), error) {
	pubsub := s.client.Subscribe(ctx, s.channel(code))
	// Force the SUBSCRIBE onto the wire before the initial read so no commit
	// lands between the two unseen.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe room: %w", err)
	}

	initial, err := s.Get(ctx, code)
	if err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan domain.Room, 8)
	done := make(chan struct{})

	go func() {
		defer close(out)
		out <- initial
		msgs := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				room, err := decodeRoom([]byte(msg.Payload))
				if err != nil {
					s.logger.Warn("dropping malformed room update", "room", code, "err", err)
					continue
				}
				select {
				case out <- room:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
	return out, cancel, nil
}

func (s *RoomStore) key(code string) string {
	return "room:" + code
}

func (s *RoomStore) channel(code string) string {
	return "room:" + code + ":events"
}

// decodeRoom validates the document shape at the store boundary so malformed
// payloads fail here instead of propagating undefined fields into sessions.
func decodeRoom(raw []byte) (domain.Room, error) {
	var room domain.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return domain.Room{}, fmt.Errorf("unmarshal room: %w", err)
	}
	if room.Code == "" {
		return domain.Room{}, fmt.Errorf("unmarshal room: missing code")
	}
	return room, nil
}
