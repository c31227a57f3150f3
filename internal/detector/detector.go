package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"whalewatch/internal/config"
	"whalewatch/internal/dedupe"
	"whalewatch/internal/domain"
	"whalewatch/internal/stores/kv"

	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"
)

// Unparseable raw event. The caller logs and skips, the tx hash is NOT
// marked processed so a later well-formed delivery still classifies.
var ErrMalformedEvent = errors.New("malformed raw event")

const whaleKeyPrefix = "whales:"

/*
	Classifies raw swaps as whales: dedup by tx hash, USD threshold check,
	canonical record out. Persists best-effort and keeps the most recent N
	whales in a ring buffer for the API.
*/

type Detector struct {
	log     logger.Logger
	deduper dedupe.Deduper
	store   kv.Store

	retention time.Duration

	mu        sync.RWMutex
	threshold float64

	ringMu sync.Mutex
	ring   []*domain.WhaleTransaction
	next   int
	filled bool
}

func New(log logger.Logger, cfg *config.DetectorConfig, deduper dedupe.Deduper, store kv.Store) (*Detector, error) {
	if cfg == nil {
		return nil, errors.New("config is required to the detector")
	}
	if deduper == nil {
		return nil, errors.New("deduper is required to the detector")
	}

	// sane defaults
	threshold := cfg.WhaleThresholdUSD
	if threshold <= 0 {
		threshold = 10_000
	}
	buffer := cfg.RecentBuffer
	if buffer <= 0 {
		buffer = 100
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	return &Detector{
		log:       log,
		deduper:   deduper,
		store:     store,
		retention: retention,
		threshold: threshold,
		ring:      make([]*domain.WhaleTransaction, buffer),
	}, nil
}

// Threshold returns the current whale cutoff in USD.
func (d *Detector) Threshold() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.threshold
}

// SetThreshold changes the cutoff at runtime. Already classified
// transactions are not revisited.
func (d *Detector) SetThreshold(usd float64) {
	d.mu.Lock()
	d.threshold = usd
	d.mu.Unlock()
	d.log.Infof("Whale threshold updated to %.2f USD", usd)
}

// Process classifies one raw event. Returns (nil, nil) when there is nothing
// to do: not a swap, a duplicate, or below threshold. ErrMalformedEvent when
// required fields are missing or unparseable.
func (d *Detector) Process(ctx context.Context, ev *domain.RawEvent) (*domain.WhaleTransaction, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", ErrMalformedEvent)
	}
	if ev.Kind != domain.KindSwap {
		return nil, nil
	}

	txHash := domain.NormalizeTxHash(ev.TxHash)
	if txHash == "" {
		return nil, fmt.Errorf("%w: empty tx hash", ErrMalformedEvent)
	}
	if ev.PoolAddress == "" {
		return nil, fmt.Errorf("%w: empty pool address for %s", ErrMalformedEvent, txHash)
	}

	seen, err := d.deduper.Seen(ctx, txHash)
	if err != nil {
		// dedup store down: fall back to processing, a duplicate whale is
		// less harmful than a silently dropped one
		d.log.Errorf("Dedup check failed for %s, proceeding: %v", txHash, err)
	}
	if seen {
		return nil, nil
	}

	if ev.AmountUSD == "" {
		return nil, fmt.Errorf("%w: missing amount_usd for %s", ErrMalformedEvent, txHash)
	}
	usd, err := decimal.NewFromString(ev.AmountUSD)
	if err != nil {
		return nil, fmt.Errorf("%w: bad amount_usd %q for %s", ErrMalformedEvent, ev.AmountUSD, txHash)
	}
	amountUSD := usd.Abs().InexactFloat64()

	if amountUSD < d.Threshold() {
		return nil, nil
	}

	wallet := ev.Recipient
	if wallet == "" {
		wallet = ev.Sender
	}

	ts := ev.EventTime
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	whale := &domain.WhaleTransaction{
		TxHash:      txHash,
		Wallet:      domain.NormalizeAddress(wallet),
		PoolAddress: domain.NormalizeAddress(ev.PoolAddress),
		AmountUSD:   amountUSD,
		Token:       ev.Token,
		Side:        sideOf(ev),
		BlockNumber: ev.BlockNumber,
		Timestamp:   ts,
	}

	d.persist(ctx, whale)
	d.push(whale)

	// marked only after successful classification, so malformed events
	// never poison the dedup set
	if err = d.deduper.Mark(ctx, txHash); err != nil {
		d.log.Errorf("Failed to mark %s processed: %v", txHash, err)
	}

	return whale, nil
}

// Recent returns up to n most recent whales, newest first. n <= 0 means all.
func (d *Detector) Recent(n int) []*domain.WhaleTransaction {
	d.ringMu.Lock()
	defer d.ringMu.Unlock()

	size := d.next
	if d.filled {
		size = len(d.ring)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]*domain.WhaleTransaction, 0, n)
	for i := 1; i <= n; i++ {
		idx := (d.next - i + len(d.ring)) % len(d.ring)
		out = append(out, d.ring[idx])
	}
	return out
}

func (d *Detector) push(w *domain.WhaleTransaction) {
	d.ringMu.Lock()
	defer d.ringMu.Unlock()

	d.ring[d.next] = w
	d.next++
	if d.next == len(d.ring) {
		d.next = 0
		d.filled = true
	}
}

// Durable write is best effort, a storage failure never blocks detection.
func (d *Detector) persist(ctx context.Context, w *domain.WhaleTransaction) {
	if d.store == nil {
		return
	}

	b, err := json.Marshal(w)
	if err != nil {
		d.log.Errorf("Failed to marshal whale %s: %v", w.TxHash, err)
		return
	}
	if err = d.store.Set(ctx, whaleKeyPrefix+w.TxHash, b, d.retention); err != nil {
		d.log.Errorf("Failed to persist whale %s: %v", w.TxHash, err)
	}
}

// Amounts are pool-side deltas: negative amount0 means the pool paid out
// token0, i.e. the trader bought it.
func sideOf(ev *domain.RawEvent) domain.Side {
	if ev.Amount0 != nil && ev.Amount0.Sign() < 0 {
		return domain.SideBuy
	}
	return domain.SideSell
}
