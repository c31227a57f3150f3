package kv

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memValue struct {
	data     []byte
	expireAt int64 // unix nano, 0 = no expiry
}

// In-process Store for dev and tests: TTL map plus an optional janitor.
type Memory struct {
	mu      sync.RWMutex
	items   map[string]memValue
	stopCh  chan struct{}
	stopped bool
}

// janitorEvery <= 0 disables the background cleanup, expired keys are then
// dropped lazily on read.
func NewMemory(janitorEvery time.Duration) *Memory {
	m := &Memory{
		items:  make(map[string]memValue, 256),
		stopCh: make(chan struct{}),
	}

	if janitorEvery > 0 {
		go m.janitor(janitorEvery)
	}

	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	now := time.Now().UnixNano()

	m.mu.RLock()
	v, ok := m.items[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if v.expireAt != 0 && v.expireAt <= now {
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		return nil, false, nil
	}

	out := make([]byte, len(v.data))
	copy(out, v.data)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var exp int64
	if ttl > 0 {
		exp = time.Now().Add(ttl).UnixNano()
	}

	cp := make([]byte, len(value))
	copy(cp, value)

	m.mu.Lock()
	m.items[key] = memValue{data: cp, expireAt: exp}
	m.mu.Unlock()

	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Scan(_ context.Context, prefix string) ([]string, error) {
	now := time.Now().UnixNano()

	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, 16)
	for k, v := range m.items {
		if v.expireAt != 0 && v.expireAt <= now {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *Memory) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			now := time.Now().UnixNano()
			m.mu.Lock()
			for k, v := range m.items {
				if v.expireAt != 0 && v.expireAt <= now {
					delete(m.items, k)
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *Memory) Close() {
	m.mu.Lock()
	if !m.stopped {
		close(m.stopCh)
		m.stopped = true
	}
	m.mu.Unlock()
}
