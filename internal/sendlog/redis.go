package sendlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the log in a Redis list. RPUSH appends atomically, so no
// document rewrite is needed. Entries are never trimmed; callers cap reads
// through Recent.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore creates a log stored under key.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// Append pushes e to the tail of the list.
func (s *RedisStore) Append(ctx context.Context, e Entry) (Entry, error) {
	e = prepare(e)
	data, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("sendlog: encode: %w", err)
	}

	if err := s.client.RPush(ctx, s.key, data).Err(); err != nil {
		return Entry{}, fmt.Errorf("sendlog: redis append: %w", err)
	}
	return e, nil
}

// Recent returns the last n entries in append order.
func (s *RedisStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	start := int64(0)
	if n > 0 {
		start = -int64(n)
	}
	raw, err := s.client.LRange(ctx, s.key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("sendlog: redis range: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("sendlog: decode: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Clear deletes the list.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("sendlog: redis clear: %w", err)
	}
	return nil
}
