package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"MedicineCrawler/internal/budget"
)

const redisBudgetTTL = 48 * time.Hour

// RedisBudgetStore shares the daily call count between processes.
type RedisBudgetStore struct {
	client *redis.Client
	prefix string
}

var _ budget.Store = (*RedisBudgetStore)(nil)

// NewRedisBudgetStore connects to addr and checks the connection.
func NewRedisBudgetStore(ctx context.Context, addr string) (*RedisBudgetStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &RedisBudgetStore{client: client, prefix: "budget:"}, nil
}

func (s *RedisBudgetStore) key(day string) string { return s.prefix + day }

func (s *RedisBudgetStore) Load(ctx context.Context, day string) (int, error) {
	n, err := s.client.Get(ctx, s.key(day)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load budget: %w", err)
	}
	return n, nil
}

// Increment bumps the counter and refreshes its expiry in one round trip.
func (s *RedisBudgetStore) Increment(ctx context.Context, day string) (int, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, s.key(day))
	pipe.Expire(ctx, s.key(day), redisBudgetTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment budget: %w", err)
	}
	return int(incr.Val()), nil
}

func (s *RedisBudgetStore) Close() error {
	return s.client.Close()
}
