// Package redisstore implements domain.StateStore on Redis strings and lists.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"github.com/go-redis/redis/v8"
)

// Store keeps values under a common key prefix.
type Store struct {
	client redis.Cmdable
	prefix string
}

// Connect creates a client for addr and verifies it with a ping.
func Connect(ctx context.Context, addr, password string, db int, prefix string) (*Store, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return New(client, prefix), client, nil
}

// New wraps an existing client.
func New(client redis.Cmdable, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("state %q: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Append pushes to the tail of a list; RPUSH returns the new length atomically.
func (s *Store) Append(ctx context.Context, key string, value []byte) (int64, error) {
	n, err := s.client.RPush(ctx, s.key(key), value).Result()
	if err != nil {
		return 0, fmt.Errorf("redis rpush %q: %w", key, err)
	}
	return n, nil
}

func (s *Store) List(ctx context.Context, key string) ([][]byte, error) {
	vals, err := s.client.LRange(ctx, s.key(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %q: %w", key, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// CheckReadiness pings Redis.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
