package poolcache

import (
	"math/big"
	"sync"
	"time"

	"whalewatch/internal/domain"

	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"
)

/*
	Latest known state per pool. Single owner of the mutable copies, every
	reader gets a clone. Apply does the whole read-modify-write under one
	lock, so two events for the same pool cannot interleave mid-update.
*/

type Cache struct {
	log logger.Logger

	mu    sync.RWMutex
	pools map[string]*domain.PoolState
}

func New(log logger.Logger) *Cache {
	return &Cache{
		log:   log,
		pools: make(map[string]*domain.PoolState, 256),
	}
}

// Get returns a snapshot of one pool.
func (c *Cache) Get(address string) (*domain.PoolState, bool) {
	addr := domain.NormalizeAddress(address)

	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.pools[addr]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// SnapshotAll returns snapshots of every tracked pool. The map is keyed by
// canonical address and safe to hold across further Applies.
func (c *Cache) SnapshotAll() map[string]*domain.PoolState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]*domain.PoolState, len(c.pools))
	for addr, p := range c.pools {
		out[addr] = p.Clone()
	}
	return out
}

// Len reports how many pools are tracked. The cascade scan is O(P) per whale,
// so deployments keep this in the hundreds.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pools)
}

// Apply folds a raw event into the pool's state and returns the before/after
// pair. before is nil on the first event for a pool. Amounts are signed
// deltas from the pool's perspective, so swap/mint/burn all reduce to one
// addition per reserve.
func (c *Cache) Apply(ev *domain.RawEvent) (before, after *domain.PoolState) {
	addr := domain.NormalizeAddress(ev.PoolAddress)
	now := ev.EventTime
	if now.IsZero() {
		now = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pools[addr]
	if !ok {
		p = &domain.PoolState{
			Address:  addr,
			Reserve0: new(big.Int),
			Reserve1: new(big.Int),
		}
		c.pools[addr] = p
	} else {
		before = p.Clone()
	}

	if ev.Decimals0 > 0 {
		p.Decimals0 = ev.Decimals0
	}
	if ev.Decimals1 > 0 {
		p.Decimals1 = ev.Decimals1
	}

	if ev.Amount0 != nil {
		p.Reserve0.Add(p.Reserve0, ev.Amount0)
	}
	if ev.Amount1 != nil {
		p.Reserve1.Add(p.Reserve1, ev.Amount1)
	}

	// negative reserves mean the feed and our state diverged, clamp and log
	if p.Reserve0.Sign() < 0 {
		c.log.Warnf("Pool %s reserve0 went negative, clamping to zero", addr)
		p.Reserve0.SetInt64(0)
	}
	if p.Reserve1.Sign() < 0 {
		c.log.Warnf("Pool %s reserve1 went negative, clamping to zero", addr)
		p.Reserve1.SetInt64(0)
	}

	if ev.Kind == domain.KindSwap {
		if usd, err := decimal.NewFromString(ev.AmountUSD); err == nil {
			p.Volume24hUSD += usd.Abs().InexactFloat64()
		}
	}

	if ev.TVLUSD > 0 {
		p.TVLUSD = ev.TVLUSD
	}

	if spot, ok := p.SpotPrice(); ok {
		p.Price = spot
	} else if ev.Price > 0 {
		p.Price = ev.Price
	}

	p.UpdatedAt = now

	return before, p.Clone()
}

// PoolUpdateFor builds the outbound notification for an applied event.
func PoolUpdateFor(ev *domain.RawEvent, before, after *domain.PoolState) *domain.PoolUpdate {
	upd := &domain.PoolUpdate{
		Address:   after.Address,
		EventKind: ev.Kind,
		TVLUSD:    after.TVLUSD,
		Timestamp: after.UpdatedAt,
	}
	if before != nil && before.TVLUSD != 0 {
		upd.TVLChangePct = (after.TVLUSD - before.TVLUSD) / before.TVLUSD * 100
	}
	return upd
}
