package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	rdb "whalewatch/internal/stores/redis"

	goredis "github.com/redis/go-redis/v9"
)

// Store on top of the shared Redis client. All keys carry a prefix so the
// dedupe set, rate-limit buckets and this store can share one DB.
type Redis struct {
	rdb    *rdb.Client
	prefix string
}

func NewRedis(client *rdb.Client, prefix string) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required to the kv store")
	}
	return &Redis{rdb: client, prefix: prefix}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET error=%w", err)
	}
	return b, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET error=%w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis DEL error=%w", err)
	}
	return nil
}

func (r *Redis) Scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := r.rdb.Scan(ctx, 0, r.prefix+prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		// strip the store prefix back off, callers think in logical keys
		keys = append(keys, iter.Val()[len(r.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis SCAN error=%w", err)
	}

	return keys, nil
}

func (r *Redis) Health(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
