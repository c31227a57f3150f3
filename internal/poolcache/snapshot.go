package poolcache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math/big"
	"time"

	"whalewatch/internal/domain"
	"whalewatch/internal/stores/kv"
)

// SnapshotKey is where SaveTo/LoadFrom keep the cache image in the store.
const SnapshotKey = "poolcache:snapshot"

// Serializable image of the whole cache, saved to the durable store so a
// restart warm-starts with known pool states instead of waiting for the feed.
type Snapshot struct {
	Version int
	TakenAt time.Time
	Pools   map[string]snapshotPool
}

type snapshotPool struct {
	Address      string
	Reserve0     *big.Int
	Reserve1     *big.Int
	Decimals0    uint8
	Decimals1    uint8
	TVLUSD       float64
	Volume24hUSD float64
	Price        float64
	UpdatedAt    time.Time
}

func (c *Cache) Snapshot(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context canceled: %w", ctx.Err())
	default:
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Version: 1,
		TakenAt: time.Now().UTC(),
		Pools:   make(map[string]snapshotPool, len(c.pools)),
	}

	for addr, p := range c.pools {
		snap.Pools[addr] = snapshotPool{
			Address:      p.Address,
			Reserve0:     new(big.Int).Set(p.Reserve0),
			Reserve1:     new(big.Int).Set(p.Reserve1),
			Decimals0:    p.Decimals0,
			Decimals1:    p.Decimals1,
			TVLUSD:       p.TVLUSD,
			Volume24hUSD: p.Volume24hUSD,
			Price:        p.Price,
			UpdatedAt:    p.UpdatedAt,
		}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	c.log.Infof("Created pool cache snapshot: %d pools, %d bytes", len(snap.Pools), buf.Len())
	return buf.Bytes(), nil
}

func (c *Cache) Restore(_ context.Context, data []byte) error {
	if len(data) == 0 {
		return errors.New("empty snapshot data")
	}

	var snap Snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	if snap.Version != 1 {
		return fmt.Errorf("unsupported snapshot version: %d", snap.Version)
	}

	pools := make(map[string]*domain.PoolState, len(snap.Pools))
	for addr, sp := range snap.Pools {
		r0 := sp.Reserve0
		if r0 == nil {
			r0 = new(big.Int)
		}
		r1 := sp.Reserve1
		if r1 == nil {
			r1 = new(big.Int)
		}
		pools[addr] = &domain.PoolState{
			Address:      sp.Address,
			Reserve0:     r0,
			Reserve1:     r1,
			Decimals0:    sp.Decimals0,
			Decimals1:    sp.Decimals1,
			TVLUSD:       sp.TVLUSD,
			Volume24hUSD: sp.Volume24hUSD,
			Price:        sp.Price,
			UpdatedAt:    sp.UpdatedAt,
		}
	}

	c.mu.Lock()
	c.pools = pools
	c.mu.Unlock()

	c.log.Infof("Restored pool cache snapshot: %d pools (taken at %s)", len(pools), snap.TakenAt)
	return nil
}

// SaveTo persists the current cache image, called on shutdown.
func (c *Cache) SaveTo(ctx context.Context, store kv.Store) error {
	if store == nil {
		return nil
	}

	data, err := c.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err = store.Set(ctx, SnapshotKey, data, 0); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadFrom warm-starts the cache from a previously saved image. A missing key
// is not an error, the cache just starts cold.
func (c *Cache) LoadFrom(ctx context.Context, store kv.Store) error {
	if store == nil {
		return nil
	}

	data, found, err := store.Get(ctx, SnapshotKey)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if !found {
		return nil
	}
	return c.Restore(ctx, data)
}
