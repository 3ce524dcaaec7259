package blobstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each document as a plain string value under
// prefix+key.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisStoreFromConfig dials Redis lazily using the store configuration.
func NewRedisStoreFromConfig(cfg Config) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisStore(client, cfg.RedisPrefix)
}

// Put replaces the value stored at key.
func (s *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("blobstore: redis set %s: %w", key, err)
	}
	return nil
}

// Get returns the value stored at key or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blobstore: redis get %s: %w", key, err)
	}
	return data, nil
}

// Delete removes key. Missing keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("blobstore: redis del %s: %w", key, err)
	}
	return nil
}

// List scans for keys under prefix. SCAN may return duplicates, so results
// are de-duplicated before sorting.
func (s *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	iter := s.client.Scan(ctx, 0, s.prefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		seen[strings.TrimPrefix(iter.Val(), s.prefix)] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("blobstore: redis scan: %w", err)
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
