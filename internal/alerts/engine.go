package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"whalewatch/internal/config"
	"whalewatch/internal/domain"
	"whalewatch/internal/stores/kv"

	"github.com/google/uuid"
	"gitlab.com/nevasik7/alerting/logger"
)

const alertKeyPrefix = "alerts:"

var ErrNotFound = errors.New("alert not found")

/*
	Live registry of user alerts. The in-memory map is the source of truth for
	the process lifetime: reads and matching never touch the durable store,
	mutations write through asynchronously. Rehydrated from the store at
	startup.
*/

type Engine struct {
	log       logger.Logger
	store     kv.Store
	retention time.Duration

	mu     sync.RWMutex
	alerts map[string]*domain.Alert

	wg sync.WaitGroup
}

func NewEngine(log logger.Logger, cfg *config.AlertsConfig, store kv.Store) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config is required to the alert engine")
	}

	return &Engine{
		log:       log,
		store:     store,
		retention: cfg.Retention,
		alerts:    make(map[string]*domain.Alert, 64),
	}, nil
}

// Rehydrate loads persisted alerts into the registry. Broken records are
// skipped with a log line, one bad row must not block startup.
func (e *Engine) Rehydrate(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	keys, err := e.store.Scan(ctx, alertKeyPrefix)
	if err != nil {
		return fmt.Errorf("alert scan failed: %w", err)
	}

	loaded := 0
	for _, key := range keys {
		b, found, err := e.store.Get(ctx, key)
		if err != nil || !found {
			continue
		}

		var a domain.Alert
		if err = json.Unmarshal(b, &a); err != nil {
			e.log.Errorf("Skipping unreadable alert %s: %v", key, err)
			continue
		}

		e.mu.Lock()
		e.alerts[a.ID] = &a
		e.mu.Unlock()
		loaded++
	}

	e.log.Infof("Rehydrated %d alerts from store", loaded)
	return nil
}

// Create validates and registers a new alert. Misconfiguration is rejected
// here and never enters the registry.
func (e *Engine) Create(ctx context.Context, a *domain.Alert) error {
	if a == nil {
		return errors.New("alert is required")
	}
	if err := a.Validate(); err != nil {
		return err
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.PoolAddress = domain.NormalizeAddress(a.PoolAddress)
	a.WalletAddress = domain.NormalizeAddress(a.WalletAddress)

	cp := *a

	e.mu.Lock()
	e.alerts[cp.ID] = &cp
	e.mu.Unlock()

	e.persistAsync(&cp)
	return nil
}

func (e *Engine) Get(id string) (*domain.Alert, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	a, ok := e.alerts[id]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}

// List returns one user's alerts sorted by creation time. An empty userID
// matches nothing, listings never cross user boundaries.
func (e *Engine) List(userID string) []*domain.Alert {
	if userID == "" {
		return nil
	}

	e.mu.RLock()
	out := make([]*domain.Alert, 0, len(e.alerts))
	for _, a := range e.alerts {
		if a.UserID != userID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (e *Engine) SetEnabled(_ context.Context, id string, enabled bool) error {
	e.mu.Lock()
	a, ok := e.alerts[id]
	if !ok {
		e.mu.Unlock()
		return ErrNotFound
	}
	a.Enabled = enabled
	cp := *a
	e.mu.Unlock()

	e.persistAsync(&cp)
	return nil
}

func (e *Engine) Delete(_ context.Context, id string) error {
	e.mu.Lock()
	_, ok := e.alerts[id]
	if !ok {
		e.mu.Unlock()
		return ErrNotFound
	}
	delete(e.alerts, id)
	e.mu.Unlock()

	if e.store != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.store.Delete(ctx, alertKeyPrefix+id); err != nil {
				e.log.Errorf("Failed to delete alert %s from store: %v", id, err)
			}
		}()
	}
	return nil
}

// CheckWhale evaluates whale-category alerts against a whale transaction.
func (e *Engine) CheckWhale(w *domain.WhaleTransaction) []*domain.AlertTrigger {
	metrics := map[domain.AlertType]float64{
		domain.AlertWhaleDetected: w.AmountUSD,
		domain.AlertLargeTrade:    w.AmountUSD,
	}
	return e.match(metrics, w.PoolAddress, w.Wallet, w)
}

// CheckImpact evaluates impact-category alerts. whale may be nil, then
// wallet filters never match.
func (e *Engine) CheckImpact(ia *domain.ImpactAnalysis, whale *domain.WhaleTransaction) []*domain.AlertTrigger {
	drain := 0.0
	if ia.LiquidityImpact < 0 {
		drain = -ia.LiquidityImpact
	}

	metrics := map[domain.AlertType]float64{
		domain.AlertPriceImpact:    abs(ia.PriceImpact),
		domain.AlertVolumeSpike:    ia.VolumeSpike,
		domain.AlertLiquidityDrain: drain,
	}

	wallet := ""
	if whale != nil {
		wallet = whale.Wallet
	}
	return e.match(metrics, ia.PrimaryPool, wallet, ia)
}

// CheckPoolUpdate evaluates tvl_change alerts against a pool update.
func (e *Engine) CheckPoolUpdate(upd *domain.PoolUpdate) []*domain.AlertTrigger {
	metrics := map[domain.AlertType]float64{
		domain.AlertTVLChange: abs(upd.TVLChangePct),
	}
	return e.match(metrics, upd.Address, "", upd)
}

// match walks the full registry once. Trigger bookkeeping mutates the alert
// in place under the write lock, persistence is fire-and-forget.
func (e *Engine) match(metrics map[domain.AlertType]float64, pool, wallet string, payload any) []*domain.AlertTrigger {
	now := time.Now().UTC()

	var triggers []*domain.AlertTrigger
	var dirty []*domain.Alert

	e.mu.Lock()
	for _, a := range e.alerts {
		if !a.Enabled {
			continue
		}
		value, relevant := metrics[a.Type]
		if !relevant {
			continue
		}
		if a.PoolAddress != "" && a.PoolAddress != pool {
			continue
		}
		if a.WalletAddress != "" && a.WalletAddress != wallet {
			continue
		}
		if !a.Condition.Match(value, a.Threshold) {
			continue
		}

		a.TriggeredCount++
		a.LastTriggered = now

		cp := *a
		dirty = append(dirty, &cp)

		triggers = append(triggers, &domain.AlertTrigger{
			AlertID:   a.ID,
			UserID:    a.UserID,
			Type:      a.Type,
			Threshold: a.Threshold,
			Message:   fmt.Sprintf("%s: value %.4f %s threshold %.4f", a.Type, value, a.Condition, a.Threshold),
			Payload:   payload,
			Timestamp: now,
		})
	}
	e.mu.Unlock()

	// notification-first: persistence failures are logged, the trigger is
	// delivered regardless
	for _, a := range dirty {
		e.persistAsync(a)
	}

	return triggers
}

func (e *Engine) persistAsync(a *domain.Alert) {
	if e.store == nil {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		b, err := json.Marshal(a)
		if err != nil {
			e.log.Errorf("Failed to marshal alert %s: %v", a.ID, err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err = e.store.Set(ctx, alertKeyPrefix+a.ID, b, e.retention); err != nil {
			e.log.Errorf("Failed to persist alert %s: %v", a.ID, err)
		}
	}()
}

// Close waits for in-flight write-throughs to settle.
func (e *Engine) Close() {
	e.wg.Wait()
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
