package kv

import (
	"context"
	"time"
)

// Durable key-value store with optional per-key expiry. Durability is best
// effort: callers keep the in-memory copy authoritative and treat write
// failures as log-and-continue. No multi-key transactions are assumed.
type Store interface {
	// Get returns the value and found=false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set writes value, ttl=0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Scan returns all keys with the given prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)
}
