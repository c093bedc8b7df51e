package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DefaultKeyPrefix namespaces presence keys in Redis.
const DefaultKeyPrefix = "gamenet:presence:"

// RedisDirectory is a Directory shared between server processes through Redis.
// Each record is a JSON string under prefix+token. Concurrent lookups of the
// same token from this process share one round trip.
type RedisDirectory struct {
	client *redis.Client
	prefix string
	group  singleflight.Group
}

// NewRedisDirectory creates a RedisDirectory. An empty prefix selects
// DefaultKeyPrefix.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	dir := NewRedisDirectory(client, "")
func NewRedisDirectory(client *redis.Client, prefix string) *RedisDirectory {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &RedisDirectory{client: client, prefix: prefix}
}

func (d *RedisDirectory) key(token string) string {
	return d.prefix + token
}

// Publish implements Directory.
func (d *RedisDirectory) Publish(ctx context.Context, rec Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal presence record: %w", err)
	}

	if ttl < 0 {
		ttl = 0
	}

	if err := d.client.Set(ctx, d.key(rec.Token), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}

	return nil
}

// Lookup implements Directory.
func (d *RedisDirectory) Lookup(ctx context.Context, token string) (Record, bool, error) {
	val, err, _ := d.group.Do(token, func() (any, error) {
		raw, err := d.client.Get(ctx, d.key(token)).Bytes()
		if err != nil {
			return nil, err
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal presence record: %w", err)
		}

		return rec, nil
	})

	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}

	if err != nil {
		return Record{}, false, fmt.Errorf("redis get error: %w", err)
	}

	return val.(Record), true, nil
}

// Remove implements Directory.
func (d *RedisDirectory) Remove(ctx context.Context, token string) error {
	if err := d.client.Del(ctx, d.key(token)).Err(); err != nil {
		return fmt.Errorf("redis del error: %w", err)
	}

	return nil
}

// Count implements Directory using SCAN, so it does not block Redis on large
// key spaces.
func (d *RedisDirectory) Count(ctx context.Context) (int, error) {
	count := 0
	iter := d.client.Scan(ctx, 0, d.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}

	if err := iter.Err(); err != nil {
		return count, fmt.Errorf("redis scan error: %w", err)
	}

	return count, nil
}
