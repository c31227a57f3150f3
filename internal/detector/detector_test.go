package detector

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"whalewatch/internal/config"
	"whalewatch/internal/dedupe"
	"whalewatch/internal/domain"
	"whalewatch/internal/stores/kv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{Level: "error", Format: "json"})
}

func newTestDetector(t *testing.T, threshold float64, bufferCap int) (*Detector, kv.Store) {
	t.Helper()

	store := kv.NewMemory(0)
	t.Cleanup(store.Close)

	ded := dedupe.NewInMemoryDedupe(newTestLogger(), time.Hour, 0)
	t.Cleanup(ded.Close)

	d, err := New(newTestLogger(), &config.DetectorConfig{
		WhaleThresholdUSD: threshold,
		RecentBuffer:      bufferCap,
		Retention:         24 * time.Hour,
	}, ded, store)
	require.NoError(t, err)

	return d, store
}

func swap(txHash, usd string) *domain.RawEvent {
	return &domain.RawEvent{
		Kind:        domain.KindSwap,
		TxHash:      txHash,
		PoolAddress: "0xpool",
		Sender:      "0xsender",
		Recipient:   "0xwallet",
		Token:       "WETH",
		Amount0:     big.NewInt(-1000),
		Amount1:     big.NewInt(2000),
		AmountUSD:   usd,
		BlockNumber: 123,
		EventTime:   time.Now().UTC(),
	}
}

func TestProcess_ClassifiesWhale(t *testing.T) {
	t.Parallel()

	d, store := newTestDetector(t, 10_000, 10)
	ctx := context.Background()

	w, err := d.Process(ctx, swap("0xAA", "125000"))
	require.NoError(t, err)
	require.NotNil(t, w)

	assert.Equal(t, "0xaa", w.TxHash)
	assert.Equal(t, "0xwallet", w.Wallet)
	assert.Equal(t, "0xpool", w.PoolAddress)
	assert.InDelta(t, 125_000, w.AmountUSD, 1e-9)
	assert.Equal(t, domain.SideBuy, w.Side, "negative amount0 means the trader bought token0")

	// persisted under its hash
	_, found, err := store.Get(ctx, "whales:0xaa")
	require.NoError(t, err)
	assert.True(t, found)
}

// Same hash twice -> exactly one whale, no duplicate record.
func TestProcess_IdempotentByTxHash(t *testing.T) {
	t.Parallel()

	d, _ := newTestDetector(t, 10_000, 10)
	ctx := context.Background()

	first, err := d.Process(ctx, swap("0xBB", "50000"))
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := d.Process(ctx, swap("0xBB", "50000"))
	require.NoError(t, err)
	assert.Nil(t, second, "duplicate must be silently absorbed")

	assert.Len(t, d.Recent(0), 1)
}

// Exactly at threshold is a whale, one cent below is not.
func TestProcess_ThresholdBoundary(t *testing.T) {
	t.Parallel()

	d, store := newTestDetector(t, 10_000, 10)
	ctx := context.Background()

	w, err := d.Process(ctx, swap("0xat", "10000.00"))
	require.NoError(t, err)
	assert.NotNil(t, w, "exactly at threshold classifies")

	w, err = d.Process(ctx, swap("0xbelow", "9999.99"))
	require.NoError(t, err)
	assert.Nil(t, w, "one cent below must not classify")

	// below-threshold events leave no trace in the store
	_, found, _ := store.Get(ctx, "whales:0xbelow")
	assert.False(t, found)
}

func TestProcess_MalformedDoesNotPoisonDedup(t *testing.T) {
	t.Parallel()

	d, _ := newTestDetector(t, 10_000, 10)
	ctx := context.Background()

	bad := swap("0xCC", "")
	_, err := d.Process(ctx, bad)
	require.ErrorIs(t, err, ErrMalformedEvent)

	// the same hash with a usable amount still classifies
	w, err := d.Process(ctx, swap("0xCC", "20000"))
	require.NoError(t, err)
	assert.NotNil(t, w)
}

func TestProcess_MalformedVariants(t *testing.T) {
	t.Parallel()

	d, _ := newTestDetector(t, 10_000, 10)
	ctx := context.Background()

	_, err := d.Process(ctx, nil)
	assert.ErrorIs(t, err, ErrMalformedEvent)

	noHash := swap("", "20000")
	_, err = d.Process(ctx, noHash)
	assert.ErrorIs(t, err, ErrMalformedEvent)

	noPool := swap("0xdd", "20000")
	noPool.PoolAddress = ""
	_, err = d.Process(ctx, noPool)
	assert.ErrorIs(t, err, ErrMalformedEvent)

	badUSD := swap("0xee", "not-a-number")
	_, err = d.Process(ctx, badUSD)
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestProcess_IgnoresNonSwaps(t *testing.T) {
	t.Parallel()

	d, _ := newTestDetector(t, 10_000, 10)

	mint := swap("0xff", "999999")
	mint.Kind = domain.KindMint

	w, err := d.Process(context.Background(), mint)
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestRecent_RingEvictsOldest(t *testing.T) {
	t.Parallel()

	d, _ := newTestDetector(t, 10_000, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := d.Process(ctx, swap(fmt.Sprintf("0x%02d", i), "50000"))
		require.NoError(t, err)
	}

	recent := d.Recent(0)
	require.Len(t, recent, 3, "buffer capacity bounds retained whales")
	assert.Equal(t, "0x04", recent[0].TxHash, "newest first")
	assert.Equal(t, "0x03", recent[1].TxHash)
	assert.Equal(t, "0x02", recent[2].TxHash)

	limited := d.Recent(2)
	require.Len(t, limited, 2)
	assert.Equal(t, "0x04", limited[0].TxHash)
}

// Raising the threshold does not reclassify or forget earlier whales.
func TestSetThreshold_NotRetroactive(t *testing.T) {
	t.Parallel()

	d, _ := newTestDetector(t, 10_000, 10)
	ctx := context.Background()

	w, err := d.Process(ctx, swap("0x01", "15000"))
	require.NoError(t, err)
	require.NotNil(t, w)

	d.SetThreshold(50_000)
	assert.InDelta(t, 50_000, d.Threshold(), 1e-9)

	assert.Len(t, d.Recent(0), 1)

	// new events use the new cutoff
	w, err = d.Process(ctx, swap("0x02", "15000"))
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestNew_ZeroConfigGetsDefaults(t *testing.T) {
	t.Parallel()

	ded := dedupe.NewInMemoryDedupe(newTestLogger(), time.Hour, 0)
	t.Cleanup(ded.Close)

	d, err := New(newTestLogger(), &config.DetectorConfig{}, ded, nil)
	require.NoError(t, err)

	assert.Equal(t, 10_000.0, d.Threshold())

	// the ring must be usable even when recent_buffer was left zero
	w, err := d.Process(context.Background(), swap("0xZZ", "10000"))
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Len(t, d.Recent(0), 1)
}
