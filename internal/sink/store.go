// Package sink is a mock 911 dispatch service that records forwarded
// emergency calls.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultCapacity is how many calls a store keeps.
const DefaultCapacity = 50

var ErrNotFound = errors.New("sink: call not found")

// Call is one received payload, kept verbatim.
type Call map[string]any

func (c Call) ID() string {
	id, _ := c["id"].(string)
	return id
}

// Store keeps the most recent calls, oldest first.
type Store interface {
	Add(ctx context.Context, c Call) error
	List(ctx context.Context) ([]Call, error)
	Get(ctx context.Context, id string) (Call, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	calls []Call
	cap   int
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{cap: capacity}
}

func (s *MemoryStore) Add(_ context.Context, c Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
	if n := len(s.calls); n > s.cap {
		s.calls = append([]Call(nil), s.calls[n-s.cap:]...)
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Call(nil), s.calls...), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.calls) - 1; i >= 0; i-- {
		if s.calls[i].ID() == id {
			return s.calls[i], nil
		}
	}
	return nil, ErrNotFound
}

// RedisStore keeps calls in a capped Redis list so several sink replicas
// share one view.
type RedisStore struct {
	client *redis.Client
	key    string
	cap    int
}

func NewRedisStore(client *redis.Client, key string, capacity int) *RedisStore {
	if key == "" {
		key = "covercall:sink:calls"
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RedisStore{client: client, key: key, cap: capacity}
}

func (s *RedisStore) Add(ctx context.Context, c Call) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal call: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, int64(-s.cap), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis push failed: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]Call, error) {
	raw, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis range failed: %w", err)
	}
	out := make([]Call, 0, len(raw))
	for _, r := range raw {
		var c Call
		if err := json.Unmarshal([]byte(r), &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal call: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Call, error) {
	calls, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].ID() == id {
			return calls[i], nil
		}
	}
	return nil, ErrNotFound
}
