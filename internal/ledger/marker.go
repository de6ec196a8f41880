package ledger

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MarkerStore persists the instant of the last bulk refill, kept separate
// from per-account grant timestamps. The read-then-write usage is a
// best-effort idempotency guard, not a compare-and-swap: concurrent
// triggers within the same day can race. A stricter variant would use
// SetNX on a day-scoped key, which changes observable behavior from
// "skip" to "reject" and is deliberately not done here.
type MarkerStore interface {
	LastRefill(ctx context.Context) (time.Time, error)
	SetLastRefill(ctx context.Context, t time.Time) error
}

// InMemoryMarker suits tests and single-instance deployments.
type InMemoryMarker struct {
	mu   sync.Mutex
	last time.Time
}

func NewInMemoryMarker() *InMemoryMarker {
	return &InMemoryMarker{}
}

func (m *InMemoryMarker) LastRefill(ctx context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, nil
}

func (m *InMemoryMarker) SetLastRefill(ctx context.Context, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = t
	return nil
}

const redisMarkerKey = "tier:bulk_refill:last_timestamp"

// RedisMarker shares the refill marker across gateway instances.
type RedisMarker struct {
	client *redis.Client
}

func NewRedisMarker(redisURL string) (*RedisMarker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisMarker{client: client}, nil
}

func NewRedisMarkerWithClient(client *redis.Client) *RedisMarker {
	return &RedisMarker{client: client}
}

func (m *RedisMarker) LastRefill(ctx context.Context) (time.Time, error) {
	value, err := m.client.Get(ctx, redisMarkerKey).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read refill marker: %w", err)
	}

	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt refill marker %q: %w", value, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (m *RedisMarker) SetLastRefill(ctx context.Context, t time.Time) error {
	if err := m.client.Set(ctx, redisMarkerKey, strconv.FormatInt(t.UnixMilli(), 10), 0).Err(); err != nil {
		return fmt.Errorf("write refill marker: %w", err)
	}
	return nil
}

func (m *RedisMarker) Close() error {
	return m.client.Close()
}
