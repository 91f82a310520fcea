// Package livestatus holds the latest in-flight status of each order, keyed by
// order id. Entries are observational: last write wins and a missing entry
// means the order is either queued or already finished.
package livestatus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ksred/swaprouter/internal/types"
)

const keyPrefix = "order-status:"

// Key is the storage key for an order's live status
func Key(orderID string) string {
	return keyPrefix + orderID
}

type Store interface {
	Set(ctx context.Context, orderID string, status types.OrderStatus) error
	// Get reports ok=false when no live entry exists
	Get(ctx context.Context, orderID string) (status types.OrderStatus, ok bool, err error)
	Delete(ctx context.Context, orderID string) error
}

// RedisStore keeps live statuses as plain string keys. A non-zero ttl expires
// entries orphaned by a crash between the last transition and the delete.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Set(ctx context.Context, orderID string, status types.OrderStatus) error {
	if err := s.client.Set(ctx, Key(orderID), string(status), s.ttl).Err(); err != nil {
		return fmt.Errorf("set live status: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, orderID string) (types.OrderStatus, bool, error) {
	val, err := s.client.Get(ctx, Key(orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get live status: %w", err)
	}
	return types.OrderStatus(val), true, nil
}

func (s *RedisStore) Delete(ctx context.Context, orderID string) error {
	if err := s.client.Del(ctx, Key(orderID)).Err(); err != nil {
		return fmt.Errorf("delete live status: %w", err)
	}
	return nil
}

// MemoryStore is the single-process Store used when no Redis is configured
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]types.OrderStatus
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]types.OrderStatus)}
}

func (s *MemoryStore) Set(_ context.Context, orderID string, status types.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[Key(orderID)] = status
	return nil
}

func (s *MemoryStore) Get(_ context.Context, orderID string) (types.OrderStatus, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.entries[Key(orderID)]
	return status, ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, Key(orderID))
	return nil
}
