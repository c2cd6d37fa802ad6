package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"quizroom-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// PoolLoader loads topic question pools from Postgres JSONB.
type PoolLoader struct {
	pool *pgxpool.Pool
}

func NewPoolLoader(pool *pgxpool.Pool) *PoolLoader {
	return &PoolLoader{pool: pool}
}

func (l *PoolLoader) LoadPool(ctx context.Context, topic string) ([]domain.Question, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM question_pools WHERE topic=$1`, topic).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrPoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, fmt.Errorf("unmarshal pool: %w", err)
	}
	return questions, nil
}
