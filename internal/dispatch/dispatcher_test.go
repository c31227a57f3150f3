package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"whalewatch/internal/config"
	"whalewatch/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{Level: "error", Format: "json"})
}

// recordingBroadcaster captures mirrored frames for inspection.
type recordingBroadcaster struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recordingBroadcaster) Publish(_ context.Context, subject string, _ interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return nil
}

func (r *recordingBroadcaster) Health(context.Context) error { return nil }

func (r *recordingBroadcaster) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.subjects))
	copy(out, r.subjects)
	return out
}

func newTestDispatcher(t *testing.T, interval time.Duration) *Dispatcher {
	t.Helper()

	d, err := New(newTestLogger(), &config.DispatchConfig{
		BatchInterval:     interval,
		ImmediateWhaleUSD: 100_000,
		SubscriberBuffer:  64,
	}, nil, "whalewatch")
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		d.Close(ctx)
	})

	return d
}

func recvFrame(t *testing.T, sub *Subscriber, timeout time.Duration) Frame {
	t.Helper()

	select {
	case f, ok := <-sub.C():
		if !ok {
			t.Fatal("subscriber channel closed before frame arrived")
		}
		return f
	case <-time.After(timeout):
		t.Fatal("timed out waiting for frame")
	}
	return Frame{}
}

func TestNew_NilConfig(t *testing.T) {
	d, err := New(newTestLogger(), nil, nil, "")

	assert.Error(t, err)
	assert.Nil(t, d)
}

func TestSubscribe_DuplicateID(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, time.Hour)

	_, err := d.Subscribe("c1", "u1", TopicPools)
	require.NoError(t, err)

	_, err = d.Subscribe("c1", "u2", TopicPools)
	assert.Error(t, err)
}

// Pool updates accumulated between ticks must arrive as one frame, in
// enqueue order.
func TestPoolUpdates_CoalescedIntoOneFrame(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, 50*time.Millisecond)
	sub, err := d.Subscribe("c1", "u1", TopicPools)
	require.NoError(t, err)

	for _, addr := range []string{"0xp1", "0xp2", "0xp3"} {
		d.PublishPoolUpdate(&domain.PoolUpdate{Address: addr, TVLUSD: 1000})
	}

	f := recvFrame(t, sub, 2*time.Second)
	assert.True(t, f.Batched)
	assert.Equal(t, TopicPools, f.Topic)
	require.Equal(t, 3, f.Count)

	for i, want := range []string{"0xp1", "0xp2", "0xp3"} {
		upd, ok := f.Payloads[i].(*domain.PoolUpdate)
		require.True(t, ok)
		assert.Equal(t, want, upd.Address)
	}
}

// A whale at or above the immediate cutoff must not wait for the tick.
func TestWhale_ImmediateBypass(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, time.Hour) // tick never fires during the test
	sub, err := d.Subscribe("c1", "u1", TopicWhales)
	require.NoError(t, err)

	d.PublishWhale(&domain.WhaleTransaction{TxHash: "0x1", AmountUSD: 150_000})

	f := recvFrame(t, sub, time.Second)
	assert.False(t, f.Batched)
	require.Equal(t, 1, f.Count)
	w := f.Payloads[0].(*domain.WhaleTransaction)
	assert.Equal(t, "0x1", w.TxHash)
}

func TestWhale_BelowCutoffWaitsForTick(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, 50*time.Millisecond)
	sub, err := d.Subscribe("c1", "u1", TopicWhales)
	require.NoError(t, err)

	d.PublishWhale(&domain.WhaleTransaction{TxHash: "0x1", AmountUSD: 15_000})

	select {
	case <-sub.C():
		t.Fatal("ordinary whale must not bypass the batch window")
	case <-time.After(10 * time.Millisecond):
	}

	f := recvFrame(t, sub, 2*time.Second)
	assert.True(t, f.Batched)
	assert.Equal(t, 1, f.Count)
}

func TestImpact_CriticalBypassesBatch(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, time.Hour)
	sub, err := d.Subscribe("c1", "u1", TopicImpact)
	require.NoError(t, err)

	d.PublishImpact(&domain.ImpactAnalysis{TxHash: "0x1", Severity: domain.SeverityCritical})

	f := recvFrame(t, sub, time.Second)
	assert.False(t, f.Batched)
	ia := f.Payloads[0].(*domain.ImpactAnalysis)
	assert.Equal(t, domain.SeverityCritical, ia.Severity)
}

// Subscribers only receive topics they opted into.
func TestTopicOptIn(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, time.Hour)
	whalesOnly, err := d.Subscribe("c1", "u1", TopicWhales)
	require.NoError(t, err)
	poolsOnly, err := d.Subscribe("c2", "u2", TopicPools)
	require.NoError(t, err)

	d.PublishWhale(&domain.WhaleTransaction{TxHash: "0x1", AmountUSD: 500_000})

	recvFrame(t, whalesOnly, time.Second)

	select {
	case <-poolsOnly.C():
		t.Fatal("pools subscriber must not see whale frames")
	case <-time.After(20 * time.Millisecond):
	}
}

// Alert triggers are addressed, only the owning user's connections get them.
func TestTrigger_PerUserAddressing(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, time.Hour)
	owner, err := d.Subscribe("c1", "u1", TopicAlerts)
	require.NoError(t, err)
	other, err := d.Subscribe("c2", "u2", TopicAlerts)
	require.NoError(t, err)

	d.PublishTrigger(&domain.AlertTrigger{AlertID: "a1", UserID: "u1", Message: "fired"})

	f := recvFrame(t, owner, time.Second)
	tr := f.Payloads[0].(*domain.AlertTrigger)
	assert.Equal(t, "a1", tr.AlertID)

	select {
	case <-other.C():
		t.Fatal("trigger leaked to another user's subscriber")
	case <-time.After(20 * time.Millisecond):
	}
}

// Close must flush pending queues before closing subscriber channels.
func TestClose_FlushesPendingQueues(t *testing.T) {
	t.Parallel()

	d, err := New(newTestLogger(), &config.DispatchConfig{
		BatchInterval:     time.Hour,
		ImmediateWhaleUSD: 100_000,
		SubscriberBuffer:  64,
	}, nil, "whalewatch")
	require.NoError(t, err)

	sub, err := d.Subscribe("c1", "u1", TopicPools)
	require.NoError(t, err)

	d.PublishPoolUpdate(&domain.PoolUpdate{Address: "0xp1"})
	d.PublishPoolUpdate(&domain.PoolUpdate{Address: "0xp2"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	f, ok := <-sub.C()
	require.True(t, ok, "flushed frame must arrive before the channel closes")
	assert.Equal(t, 2, f.Count)

	_, ok = <-sub.C()
	assert.False(t, ok, "channel must be closed after shutdown")
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	d, err := New(newTestLogger(), &config.DispatchConfig{
		BatchInterval:     time.Hour,
		ImmediateWhaleUSD: 100_000,
		SubscriberBuffer:  1,
	}, nil, "whalewatch")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.Close(ctx))
	require.NoError(t, d.Close(ctx))
}

func TestSlowSubscriber_DropsAreCounted(t *testing.T) {
	t.Parallel()

	d, err := New(newTestLogger(), &config.DispatchConfig{
		BatchInterval:     time.Hour,
		ImmediateWhaleUSD: 100_000,
		SubscriberBuffer:  1,
	}, nil, "whalewatch")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close(context.Background()) })

	_, err = d.Subscribe("c1", "u1", TopicWhales)
	require.NoError(t, err)

	// buffer of one, second immediate frame has nowhere to go
	d.PublishWhale(&domain.WhaleTransaction{TxHash: "0x1", AmountUSD: 200_000})
	d.PublishWhale(&domain.WhaleTransaction{TxHash: "0x2", AmountUSD: 200_000})

	assert.Equal(t, uint64(1), d.Dropped())
}

func TestMirror_PublishesToCluster(t *testing.T) {
	t.Parallel()

	rec := &recordingBroadcaster{}
	d, err := New(newTestLogger(), &config.DispatchConfig{
		BatchInterval:     time.Hour,
		ImmediateWhaleUSD: 100_000,
		SubscriberBuffer:  8,
	}, rec, "ww")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close(context.Background()) })

	d.PublishWhale(&domain.WhaleTransaction{TxHash: "0x1", AmountUSD: 500_000})
	d.PublishTrigger(&domain.AlertTrigger{AlertID: "a1", UserID: "u9"})

	subjects := rec.seen()
	require.Len(t, subjects, 2)
	assert.Equal(t, "ww.whales", subjects[0])
	assert.Equal(t, "ww.alerts.u9", subjects[1])
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, time.Hour)
	sub, err := d.Subscribe("c1", "u1", TopicWhales)
	require.NoError(t, err)

	d.Unsubscribe("c1")

	_, ok := <-sub.C()
	assert.False(t, ok, "channel closes on unsubscribe")

	// no panic publishing after removal
	d.PublishWhale(&domain.WhaleTransaction{TxHash: "0x1", AmountUSD: 500_000})
}

func TestNew_ZeroConfigGetsDefaults(t *testing.T) {
	t.Parallel()

	d, err := New(newTestLogger(), &config.DispatchConfig{}, nil, "")
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		d.Close(ctx)
	})

	assert.Equal(t, 100*time.Millisecond, d.cfg.BatchInterval)
	assert.Equal(t, 100_000.0, d.cfg.ImmediateWhaleUSD)
	assert.Equal(t, 64, d.cfg.SubscriberBuffer)

	// a whale at the default cutoff fans out without waiting for a tick
	sub, err := d.Subscribe("c1", "", TopicWhales)
	require.NoError(t, err)
	d.PublishWhale(&domain.WhaleTransaction{TxHash: "0x1", AmountUSD: 100_000})
	f := recvFrame(t, sub, time.Second)
	assert.Equal(t, TopicWhales, f.Topic)
}
