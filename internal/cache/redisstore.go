// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore is the multi-instance cache backend: step results land in a
// shared Redis keyspace so a fingerprint built by one engine instance is
// visible to every other instance, not just the process that built it.
//
// Grounded on connectors/redis/connector.go's RedisConnector (connection
// setup, pool sizing, logger shape).
type RedisStore struct {
	client    *redis.Client
	logger    *log.Logger
	keyPrefix string
}

// RedisConfig configures a RedisStore connection.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisStore connects to Redis and returns a ready-to-use store.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     100,
		MinIdleConns: 10,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis cache backend: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "pilot:cache:"
	}

	return &RedisStore{
		client:    client,
		logger:    log.New(os.Stdout, "[CACHE_REDIS] ", log.LstdFlags),
		keyPrefix: prefix,
	}, nil
}

func (s *RedisStore) fullKey(key string) string {
	return s.keyPrefix + key
}

// Get fetches and JSON-decodes a cached value.
func (s *RedisStore) Get(ctx context.Context, key string) (interface{}, bool, error) {
	raw, err := s.client.Get(ctx, s.fullKey(key)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis cache get failed: %w", err)
	}
	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, false, fmt.Errorf("redis cache value corrupt for key %q: %w", key, err)
	}
	return value, true, nil
}

// Set JSON-encodes and stores a value with the given TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if err := s.client.Set(ctx, s.fullKey(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache set failed: %w", err)
	}
	return nil
}

// Delete removes a key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.fullKey(key)).Err()
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
