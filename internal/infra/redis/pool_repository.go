package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"quizroom-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// PoolLoader fetches a topic's question pool from a backing store.
type PoolLoader interface {
	LoadPool(ctx context.Context, topic string) ([]domain.Question, error)
}

// PoolRepository caches topic pools as JSON in Redis (pool:{topic}) and falls
// back to the loader on cache miss.
type PoolRepository struct {
	client *redis.Client
	loader PoolLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewPoolRepository(client *redis.Client, loader PoolLoader, ttl time.Duration) *PoolRepository {
	return &PoolRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *PoolRepository) GetPool(ctx context.Context, topic string) ([]domain.Question, error) {
	key := r.key(topic)

	raw, err := r.client.Get(ctx, key).Bytes()
	if err == nil {
		return decodePool(raw)
	}

	result, err, _ := r.sf.Do(topic, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		raw, err := r.client.Get(ctx, key).Bytes()
		if err == nil {
			questions, err := decodePool(raw)
			if err != nil {
				return nil, err
			}
			return questions, nil
		}

		questions, err := r.loader.LoadPool(ctx, topic)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(questions)
		if err != nil {
			return nil, fmt.Errorf("marshal pool: %w", err)
		}
		_ = r.client.Set(ctx, key, data, r.ttlWithJitter()).Err()

		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (r *PoolRepository) key(topic string) string {
	return "pool:" + topic
}

func (r *PoolRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

func decodePool(raw []byte) ([]domain.Question, error) {
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, fmt.Errorf("unmarshal pool: %w", err)
	}
	return questions, nil
}
