package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"quizroom-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// PoolLoader fetches a topic's question pool from a backing store.
type PoolLoader interface {
	LoadPool(ctx context.Context, topic string) ([]domain.Question, error)
}

// PoolRepository caches question pools with TTL to avoid repeated DB hits.
type PoolRepository struct {
	loader PoolLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedPool
}

type cachedPool struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewPoolRepository(loader PoolLoader, ttl time.Duration) *PoolRepository {
	return &PoolRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedPool),
	}
}

func (r *PoolRepository) GetPool(ctx context.Context, topic string) ([]domain.Question, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[topic]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.questions, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(topic, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[topic]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.questions, nil
		}
		r.mu.RUnlock()

		questions, err := r.loader.LoadPool(ctx, topic)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cache[topic] = cachedPool{
			questions: questions,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (r *PoolRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticPoolLoader serves pools from an in-memory map (tests/demos).
type StaticPoolLoader struct {
	pools map[string][]domain.Question
}

func NewStaticPoolLoader(pools map[string][]domain.Question) *StaticPoolLoader {
	return &StaticPoolLoader{pools: pools}
}

func (l *StaticPoolLoader) LoadPool(_ context.Context, topic string) ([]domain.Question, error) {
	if pool, ok := l.pools[topic]; ok {
		return pool, nil
	}
	return nil, domain.ErrPoolNotFound
}
