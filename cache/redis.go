package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces taxomat entries in a shared Redis database.
const redisKeyPrefix = "taxomat:"

// Redis is a Store backed by a Redis server. Server-side expiry acts as
// a backstop; the read-side TTL check stays authoritative so semantics
// match the other backends.
type Redis struct {
	rdb *goredis.Client
}

// NewRedis connects to the given address and verifies it with a ping.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis cache: address is required")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis cache: ping: %w", err)
	}

	return &Redis{rdb: rdb}, nil
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := r.rdb.Get(ctx, redisKeyPrefix+encodeKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis cache: get: %w", err)
	}

	e, err := unmarshalEntry(data)
	if err != nil {
		return nil, err
	}
	if e.Expired(time.Now()) {
		return nil, ErrMiss
	}
	return e, nil
}

// Put implements Store.
func (r *Redis) Put(ctx context.Context, e *Entry) error {
	data, err := marshalEntry(e)
	if err != nil {
		return err
	}
	// Keep the server-side expiry slightly behind the logical TTL so a
	// clock-skewed reader still sees the entry and rejects it itself.
	expiry := time.Duration(0)
	if e.TTL > 0 {
		expiry = e.TTL + time.Hour
	}
	if err := r.rdb.Set(ctx, redisKeyPrefix+encodeKey(e.Key), data, expiry).Err(); err != nil {
		return fmt.Errorf("redis cache: put: %w", err)
	}
	return nil
}

// Keys implements Store.
func (r *Redis) Keys(ctx context.Context) ([]Key, error) {
	var keys []Key
	iter := r.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		raw := iter.Val()[len(redisKeyPrefix):]
		key, err := decodeKey(raw)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis cache: scan: %w", err)
	}
	return keys, nil
}

// PurgeExpired implements Store.
func (r *Redis) PurgeExpired(ctx context.Context) (int, error) {
	now := time.Now()
	purged := 0
	iter := r.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := r.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		e, err := unmarshalEntry(data)
		if err != nil || !e.Expired(now) {
			continue
		}
		if r.rdb.Del(ctx, iter.Val()).Err() == nil {
			purged++
		}
	}
	if err := iter.Err(); err != nil {
		return purged, fmt.Errorf("redis cache: scan: %w", err)
	}
	return purged, nil
}

// Clear implements Store.
func (r *Redis) Clear(ctx context.Context) error {
	iter := r.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis cache: delete: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis cache: scan: %w", err)
	}
	return nil
}

// Close implements Store.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
