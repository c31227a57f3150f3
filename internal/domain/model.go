package domain

import (
	"math/big"
	"time"
)

// Raw swap/liquidity event from the upstream feed
type RawEvent struct {
	Kind        EventKind `json:"kind"`         // swap|mint|burn
	TxHash      string    `json:"tx_hash"`      // 0x-prefixed 66 chars
	PoolAddress string    `json:"pool_address"` // 0x-prefixed 42 chars
	Sender      string    `json:"sender"`
	Recipient   string    `json:"recipient"`
	Token       string    `json:"token"`   // lowCardinality in CH
	Amount0     *big.Int  `json:"amount0"` // signed, raw token units
	Amount1     *big.Int  `json:"amount1"`
	AmountUSD   string    `json:"amount_usd"` // decimal(20,6) as string, from the feed oracle
	TVLUSD      float64   `json:"tvl_usd"`    // post-event pool TVL, 0 when the feed omits it
	Price       float64   `json:"price"`      // quoted spot, fallback when reserves are unusable
	Decimals0   uint8     `json:"decimals0"`
	Decimals1   uint8     `json:"decimals1"`
	BlockNumber uint64    `json:"block_number"`
	EventTime   time.Time `json:"event_time"` // RFC3339/UTC
}

type EventKind string

const (
	KindSwap EventKind = "swap"
	KindMint EventKind = "mint"
	KindBurn EventKind = "burn"
)

func (k EventKind) Valid() bool {
	switch k {
	case KindSwap, KindMint, KindBurn:
		return true
	}
	return false
}

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Snapshot of a pool at a point in time. The cache owns the mutable copy,
// everything else works on value copies with cloned reserves.
type PoolState struct {
	Address      string    `json:"address"`
	Reserve0     *big.Int  `json:"reserve0"`
	Reserve1     *big.Int  `json:"reserve1"`
	Decimals0    uint8     `json:"decimals0"`
	Decimals1    uint8     `json:"decimals1"`
	TVLUSD       float64   `json:"tvl_usd"`
	Volume24hUSD float64   `json:"volume_24h_usd"`
	Price        float64   `json:"price"` // token1/token0, quoted fallback
	UpdatedAt    time.Time `json:"updated_at"`
}

// SpotPrice derives token1/token0 from decimal-adjusted reserves.
// Falls back to the quoted Price field, ok=false when neither is usable.
func (p *PoolState) SpotPrice() (float64, bool) {
	if p.Reserve0 != nil && p.Reserve1 != nil && p.Reserve0.Sign() > 0 && p.Reserve1.Sign() > 0 {
		r0 := adjustReserve(p.Reserve0, p.Decimals0)
		r1 := adjustReserve(p.Reserve1, p.Decimals1)
		if r0 > 0 {
			return r1 / r0, true
		}
	}
	if p.Price > 0 {
		return p.Price, true
	}
	return 0, false
}

func (p *PoolState) Clone() *PoolState {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Reserve0 != nil {
		cp.Reserve0 = new(big.Int).Set(p.Reserve0)
	}
	if p.Reserve1 != nil {
		cp.Reserve1 = new(big.Int).Set(p.Reserve1)
	}
	return &cp
}

func adjustReserve(r *big.Int, decimals uint8) float64 {
	f := new(big.Float).SetInt(r)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(f, scale).Float64()
	return out
}

// Canonical whale record. The detector builds it, the pipeline stamps
// Severity once the impact analysis is in, before the record goes out.
type WhaleTransaction struct {
	TxHash      string    `json:"txHash"`
	Wallet      string    `json:"wallet"`
	PoolAddress string    `json:"poolAddress"`
	AmountUSD   float64   `json:"amountUSD"`
	Token       string    `json:"token"`
	Side        Side      `json:"type"`
	BlockNumber uint64    `json:"blockNumber"`
	Timestamp   time.Time `json:"timestamp"`
	Severity    Severity  `json:"severity,omitempty"`
}

type AffectedPool struct {
	Address     string   `json:"address"`
	PriceImpact float64  `json:"priceImpact"`
	Severity    Severity `json:"severity"`
}

// One per whale transaction, keyed by tx hash.
type ImpactAnalysis struct {
	TxHash          string         `json:"txHash"`
	Severity        Severity       `json:"severity"`
	PriceImpact     float64        `json:"priceImpact"`     // signed percent
	LiquidityImpact float64        `json:"liquidityImpact"` // signed percent
	VolumeSpike     float64        `json:"volumeSpike"`     // tx amount vs 24h volume, percent
	AffectedPools   []AffectedPool `json:"affectedPools"`
	CascadeDetected bool           `json:"cascadeDetected"`
	PrimaryPool     string         `json:"primaryPool"`
	Timestamp       time.Time      `json:"timestamp"`
	Degraded        bool           `json:"degraded,omitempty"` // set when inputs were unusable and zeros were substituted
}

// Descriptive only, the ratio is never gated by a threshold upstream.
func (i *ImpactAnalysis) VolumeSpikeSignificant() bool {
	return i.VolumeSpike >= 100
}

// Batched outbound pool notification.
type PoolUpdate struct {
	Address      string    `json:"address"`
	EventKind    EventKind `json:"eventKind"`
	TVLUSD       float64   `json:"tvl"`
	TVLChangePct float64   `json:"tvlChangePct"`
	Timestamp    time.Time `json:"timestamp"`
}
