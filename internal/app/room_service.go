package app

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"quizroom-service/internal/domain"
)

// RoomStore abstracts the shared room document store (in-memory, Redis, etc).
// Update is a transactional read-modify-write: the mutation is applied against
// the current document and committed atomically, so concurrent readiness or
// score writes cannot silently overwrite each other.
type RoomStore interface {
	Create(ctx context.Context, room domain.Room) error
	Get(ctx context.Context, code string) (domain.Room, error)
	Update(ctx context.Context, code string, mutate func(*domain.Room) error) (domain.Room, error)
	Subscribe(ctx context.Context, code string) (<-chan domain.Room, func(), error)
}

// PoolRepository loads topic question pools (from cache/backing store).
type PoolRepository interface {
	GetPool(ctx context.Context, topic string) ([]domain.Question, error)
}

const roomCodeLength = 9

const roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// createRetries bounds regeneration when a generated code is already taken.
const createRetries = 5

// RoomService contains the room repository and participant registry use cases.
type RoomService struct {
	store RoomStore
	pools PoolRepository
	now   func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRoomService(store RoomStore, pools PoolRepository) *RoomService {
	return &RoomService{
		store: store,
		pools: pools,
		now:   time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewRoomServiceWithRand is test-only for deterministic codes and sampling.
func NewRoomServiceWithRand(store RoomStore, pools PoolRepository, rnd *rand.Rand, now func() time.Time) *RoomService {
	return &RoomService{store: store, pools: pools, now: now, rnd: rnd}
}

// CreateRoom draws numQuestions from the topic pool without replacement
// (clamped to the pool size so a short pool never blocks creation), assigns a
// fresh room code and persists the document with no participants.
func (s *RoomService) CreateRoom(ctx context.Context, topic string, numQuestions int, roomName string, studentCount int) (domain.Room, error) {
	pool, err := s.pools.GetPool(ctx, topic)
	if err != nil {
		return domain.Room{}, err
	}
	if len(pool) == 0 {
		return domain.Room{}, domain.ErrEmptyPool
	}
	if numQuestions > len(pool) {
		numQuestions = len(pool)
	}
	if numQuestions < 1 {
		numQuestions = 1
	}

	questions := s.sampleQuestions(pool, numQuestions)

	room := domain.Room{
		RoomName:     roomName,
		Topic:        topic,
		NumStudents:  studentCount,
		NumQuestions: numQuestions,
		Questions:    questions,
		Participants: []domain.Participant{},
		Status:       domain.StatusWaiting,
		CreatedAt:    s.now(),
	}

	// Codes are drawn from a space large enough that collisions are rare;
	// Create still rejects a taken code, so regenerate instead of clobbering.
	for attempt := 0; attempt < createRetries; attempt++ {
		room.Code = s.generateCode()
		err = s.store.Create(ctx, room)
		if err == nil {
			return room, nil
		}
		if err != domain.ErrRoomExists {
			return domain.Room{}, err
		}
	}
	return domain.Room{}, err
}

// GetRoom is the join-time existence check.
func (s *RoomService) GetRoom(ctx context.Context, code string) (domain.Room, error) {
	return s.store.Get(ctx, code)
}

// Join appends the participant if absent. Joining twice with the same id is a
// no-op, so a reloading client keeps its single entry.
func (s *RoomService) Join(ctx context.Context, code, participantID, name string) error {
	_, err := s.store.Update(ctx, code, func(room *domain.Room) error {
		if _, ok := room.Participant(participantID); ok {
			return nil
		}
		room.Participants = append(room.Participants, domain.Participant{
			ID:    participantID,
			Name:  name,
			Score: 0,
			Ready: false,
		})
		return nil
	})
	return err
}

// MarkReady flags the participant as ready. The flag is monotonic; marking an
// already-ready participant is a no-op.
func (s *RoomService) MarkReady(ctx context.Context, code, participantID string) error {
	_, err := s.store.Update(ctx, code, func(room *domain.Room) error {
		for i := range room.Participants {
			if room.Participants[i].ID == participantID {
				room.Participants[i].Ready = true
				return nil
			}
		}
		return domain.ErrParticipantNotFound
	})
	return err
}

// AddScore accrues delta points to the participant's self-reported score.
// Scores are monotone non-decreasing, so a non-positive delta mutates nothing,
// but the lookup still runs: a missing room or participant is reported
// regardless of the delta.
func (s *RoomService) AddScore(ctx context.Context, code, participantID string, delta int) error {
	_, err := s.store.Update(ctx, code, func(room *domain.Room) error {
		for i := range room.Participants {
			if room.Participants[i].ID == participantID {
				if delta > 0 {
					room.Participants[i].Score += delta
				}
				return nil
			}
		}
		return domain.ErrParticipantNotFound
	})
	return err
}

// Subscribe returns the live feed of room document snapshots.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *RoomService) Subscribe(ctx context.Context, code string) (<-chan domain.Room, func(), error) {
	return s.store.Subscribe(ctx, code)
}

// WatchLeaderboard projects the live room feed into ranked leaderboards.
func (s *RoomService) WatchLeaderboard(ctx context.Context, code string) (<-chan domain.Leaderboard, func(), error) {
	updates, cancel, err := s.store.Subscribe(ctx, code)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan domain.Leaderboard, 8)
	go func() {
		defer close(out)
		for room := range updates {
			lb := domain.Rank(room, s.now())
			select {
			case out <- lb:
			default:
				// Stale rankings are worthless; keep only the latest.
				select {
				case <-out:
				default:
				}
				out <- lb
			}
		}
	}()
	return out, cancel, nil
}

func (s *RoomService) sampleQuestions(pool []domain.Question, n int) []domain.Question {
	s.mu.Lock()
	perm := s.rnd.Perm(len(pool))
	s.mu.Unlock()

	questions := make([]domain.Question, 0, n)
	for _, idx := range perm[:n] {
		questions = append(questions, pool[idx])
	}
	return questions
}

func (s *RoomService) generateCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := make([]byte, roomCodeLength)
	for i := range code {
		code[i] = roomCodeAlphabet[s.rnd.Intn(len(roomCodeAlphabet))]
	}
	return string(code)
}
