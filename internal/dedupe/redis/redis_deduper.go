package redis

import (
	"context"
	"fmt"
	"time"

	"whalewatch/internal/config"
	rdb "whalewatch/internal/stores/redis"

	"gitlab.com/nevasik7/alerting/logger"
)

type RedisDedupe struct {
	log    logger.Logger
	rdb    *rdb.Client
	ttl    time.Duration
	prefix string
}

// Cross-restart dedupe on Redis SETNX + TTL.
// prefix example "whalewatch:dedupe:"
func NewRedisDeduper(log logger.Logger, cfg *config.DedupeConfig, rdb *rdb.Client) (*RedisDedupe, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required to the redis deduper")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required to the redis deduper")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "dedupe:"
	}

	return &RedisDedupe{
		log:    log,
		rdb:    rdb,
		ttl:    cfg.TTL,
		prefix: prefix,
	}, nil
}

func (d *RedisDedupe) Seen(ctx context.Context, id string) (bool, error) {
	n, err := d.rdb.Exists(ctx, d.prefix+id).Result()
	if err != nil {
		d.log.Errorf("Redis EXISTS error=%v", err)
		return false, fmt.Errorf("redis EXISTS error=%w", err)
	}
	return n > 0, nil
}

func (d *RedisDedupe) Mark(ctx context.Context, id string) error {
	// SETNX so the first writer wins under concurrent delivery
	if err := d.rdb.SetNX(ctx, d.prefix+id, 1, d.ttl).Err(); err != nil {
		d.log.Errorf("Redis SetNX error=%v", err)
		return fmt.Errorf("redis SetNX error=%w", err)
	}
	return nil
}

func (d *RedisDedupe) Health(ctx context.Context) error {
	return d.rdb.Ping(ctx).Err()
}
