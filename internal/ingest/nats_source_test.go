package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"whalewatch/internal/config"
	"whalewatch/internal/domain"
	natsps "whalewatch/internal/pubsub/nats"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{Level: "error", Format: "json"})
}

func newTestSource(t *testing.T) (*NATSSource, *natsps.Client) {
	t.Helper()

	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	s := natsserver.RunServer(&opts)
	t.Cleanup(s.Shutdown)

	client, err := natsps.New(newTestLogger(), &config.NATSConfig{URL: s.ClientURL()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	src, err := NewNATSSource(newTestLogger(), client, &config.IngestConfig{Subject: "feed.events"})
	require.NoError(t, err)
	t.Cleanup(func() { src.Stop() })

	return src, client
}

func TestNewNATSSource_Validation(t *testing.T) {
	_, err := NewNATSSource(newTestLogger(), nil, &config.IngestConfig{Subject: "x"})
	assert.Error(t, err)

	_, err = NewNATSSource(newTestLogger(), &natsps.Client{}, &config.IngestConfig{})
	assert.Error(t, err)
}

func TestStart_DeliversDecodedEvents(t *testing.T) {
	src, client := newTestSource(t)

	var mu sync.Mutex
	var got []*domain.RawEvent
	require.NoError(t, src.Start(context.Background(), func(_ context.Context, ev *domain.RawEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}))

	ev := map[string]any{
		"kind":         "swap",
		"tx_hash":      "0xabc",
		"pool_address": "0xpool",
		"amount_usd":   "12500.50",
		"block_number": 100,
	}
	require.NoError(t, client.Publish(context.Background(), "feed.events", ev))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, domain.KindSwap, got[0].Kind)
	assert.Equal(t, "0xabc", got[0].TxHash)
	assert.Equal(t, "12500.50", got[0].AmountUSD)
	assert.Equal(t, uint64(1), src.Decoded())
}

func TestStart_UndecodablePayloadIsCounted(t *testing.T) {
	src, client := newTestSource(t)

	require.NoError(t, src.Start(context.Background(), func(context.Context, *domain.RawEvent) {
		t.Error("handler must not run for garbage payloads")
	}))

	// marshals to a JSON string, which is not a valid event object
	require.NoError(t, client.Publish(context.Background(), "feed.events", "garbage"))

	require.Eventually(t, func() bool {
		return src.Invalid() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(0), src.Decoded())
}

func TestStart_Twice(t *testing.T) {
	src, _ := newTestSource(t)

	noop := func(context.Context, *domain.RawEvent) {}
	require.NoError(t, src.Start(context.Background(), noop))
	assert.Error(t, src.Start(context.Background(), noop))

	require.NoError(t, src.Stop())
	require.NoError(t, src.Stop())
}
