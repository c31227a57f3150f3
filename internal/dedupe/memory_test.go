package dedupe

import (
	"context"
	"sync"
	"testing"
	"time"

	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{
		Level:  "error",
		Format: "json",
	})
}

// Seen before Mark -> false, Seen after Mark -> true.
func TestMemoryDedupe_SeenAfterMark(t *testing.T) {
	t.Parallel()

	m := NewInMemoryDedupe(newTestLogger(), 200*time.Millisecond, 0)
	defer m.Close()

	ctx := context.Background()
	const id = "0xabc:1"

	seen, err := m.Seen(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen {
		t.Fatalf("expected Seen=false before Mark, got true")
	}

	if err = m.Mark(ctx, id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen, err = m.Seen(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !seen {
		t.Fatalf("expected Seen=true after Mark, got false")
	}
}

// After TTL the hash is forgotten and Seen reports false again.
func TestMemoryDedupe_Expiration(t *testing.T) {
	t.Parallel()

	ttl := 50 * time.Millisecond
	m := NewInMemoryDedupe(newTestLogger(), ttl, 0)
	defer m.Close()

	ctx := context.Background()
	const id = "0xdef:2"

	_ = m.Mark(ctx, id)

	time.Sleep(ttl + 20*time.Millisecond)

	seen, _ := m.Seen(ctx, id)
	if seen {
		t.Fatalf("after TTL expired, Seen must be false again, got true")
	}
}

// Janitor removes expired entries from the map.
func TestMemoryDedupe_JanitorCleansUp(t *testing.T) {
	t.Parallel()

	ttl := 20 * time.Millisecond
	janitorEvery := 15 * time.Millisecond

	m := NewInMemoryDedupe(newTestLogger(), ttl, janitorEvery)
	defer m.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = m.Mark(ctx, "k-"+time.Duration(i).String())
	}

	time.Sleep(ttl + 3*janitorEvery)

	m.mu.RLock()
	size := len(m.items)
	m.mu.RUnlock()

	if size != 0 {
		t.Fatalf("expected janitor to clean expired items, but map size=%d", size)
	}
}

func TestMemoryDedupe_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	m := NewInMemoryDedupe(newTestLogger(), 50*time.Millisecond, 10*time.Millisecond)

	// twice without panic
	m.Close()
	m.Close()
}

// No races when many goroutines mark and check the same id.
func TestMemoryDedupe_ConcurrentSameID(t *testing.T) {
	t.Parallel()

	m := NewInMemoryDedupe(newTestLogger(), 500*time.Millisecond, 0)
	defer m.Close()

	ctx := context.Background()
	const id = "same-id"
	const workers = 64

	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if err := m.Mark(ctx, id); err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			seen, err := m.Seen(ctx, id)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if !seen {
				t.Errorf("Seen after Mark must be true")
			}
		}()
	}
	wg.Wait()
}
