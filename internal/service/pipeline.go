package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"whalewatch/internal/alerts"
	"whalewatch/internal/config"
	"whalewatch/internal/detector"
	"whalewatch/internal/dispatch"
	"whalewatch/internal/domain"
	"whalewatch/internal/impact"
	"whalewatch/internal/metrics"
	"whalewatch/internal/poolcache"
	"whalewatch/internal/stores/clickhouse"
	"whalewatch/internal/stores/kv"

	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"
)

const impactKeyPrefix = "impact:"

/*
	Per-event orchestration: fold the event into the pool cache, notify pool
	subscribers, classify whales, analyze impact, evaluate alerts and hand
	everything to the dispatcher. Stages degrade independently, a storage or
	analysis failure never drops the event on the floor.
*/

type Pipeline struct {
	log logger.Logger

	cache      *poolcache.Cache
	detector   *detector.Detector
	analyzer   *impact.Analyzer
	alerts     *alerts.Engine
	dispatcher *dispatch.Dispatcher

	store           kv.Store           // impact records, optional
	sink            *clickhouse.Writer // analytic rows, optional
	impactRetention time.Duration

	processed atomic.Uint64
	whales    atomic.Uint64
	malformed atomic.Uint64
}

type Deps struct {
	Cache      *poolcache.Cache
	Detector   *detector.Detector
	Analyzer   *impact.Analyzer
	Alerts     *alerts.Engine
	Dispatcher *dispatch.Dispatcher
	Store      kv.Store
	Sink       *clickhouse.Writer
}

func NewPipeline(log logger.Logger, cfg *config.ImpactConfig, deps Deps) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("config is required to the pipeline")
	}
	if deps.Cache == nil || deps.Detector == nil || deps.Analyzer == nil ||
		deps.Alerts == nil || deps.Dispatcher == nil {
		return nil, errors.New("cache, detector, analyzer, alerts and dispatcher are required to the pipeline")
	}

	return &Pipeline{
		log:             log,
		cache:           deps.Cache,
		detector:        deps.Detector,
		analyzer:        deps.Analyzer,
		alerts:          deps.Alerts,
		dispatcher:      deps.Dispatcher,
		store:           deps.Store,
		sink:            deps.Sink,
		impactRetention: cfg.Retention,
	}, nil
}

// HandleEvent runs one raw event through every stage. Safe for concurrent
// use, ordering within one pool is guaranteed by the cache's Apply lock.
func (p *Pipeline) HandleEvent(ctx context.Context, ev *domain.RawEvent) {
	p.processed.Add(1)
	metrics.EventsProcessed.Inc()

	// classification first: it does not touch pool state, and a whale needs
	// the pre-transaction snapshot for the cascade scan
	whale, err := p.detector.Process(ctx, ev)
	if err != nil {
		p.malformed.Add(1)
		metrics.EventsMalformed.Inc()
		p.log.Warnf("Skipping event: %v", err)
		return
	}

	var poolsBefore map[string]*domain.PoolState
	if whale != nil {
		poolsBefore = p.cache.SnapshotAll()
	}

	before, after := p.cache.Apply(ev)
	upd := poolcache.PoolUpdateFor(ev, before, after)
	p.dispatcher.PublishPoolUpdate(upd)
	p.fire(p.alerts.CheckPoolUpdate(upd))

	if whale == nil {
		return
	}
	p.whales.Add(1)
	metrics.WhalesDetected.Inc()

	poolsAfter := p.cache.SnapshotAll()
	ia := p.analyzer.Analyze(whale, poolsBefore, poolsAfter)
	whale.Severity = ia.Severity
	metrics.ImpactSeverity.WithLabelValues(string(ia.Severity)).Inc()

	p.persistImpact(ctx, &ia)
	p.sinkRow(whale, &ia)

	p.dispatcher.PublishWhale(whale)
	p.dispatcher.PublishImpact(&ia)

	p.fire(p.alerts.CheckWhale(whale))
	p.fire(p.alerts.CheckImpact(&ia, whale))
}

// Impact returns the stored analysis for a tx hash.
func (p *Pipeline) Impact(ctx context.Context, txHash string) (*domain.ImpactAnalysis, bool, error) {
	if p.store == nil {
		return nil, false, nil
	}

	b, found, err := p.store.Get(ctx, impactKeyPrefix+domain.NormalizeTxHash(txHash))
	if err != nil || !found {
		return nil, false, err
	}

	var ia domain.ImpactAnalysis
	if err = json.Unmarshal(b, &ia); err != nil {
		return nil, false, err
	}
	return &ia, true, nil
}

// Stats for the health endpoint and metrics scrapes.
func (p *Pipeline) Stats() (processed, whales, malformed uint64) {
	return p.processed.Load(), p.whales.Load(), p.malformed.Load()
}

func (p *Pipeline) fire(triggers []*domain.AlertTrigger) {
	for _, tr := range triggers {
		metrics.AlertsTriggered.Inc()
		p.dispatcher.PublishTrigger(tr)
	}
}

func (p *Pipeline) persistImpact(ctx context.Context, ia *domain.ImpactAnalysis) {
	if p.store == nil {
		return
	}

	b, err := json.Marshal(ia)
	if err != nil {
		p.log.Errorf("Failed to marshal impact for %s: %v", ia.TxHash, err)
		return
	}
	if err = p.store.Set(ctx, impactKeyPrefix+ia.TxHash, b, p.impactRetention); err != nil {
		p.log.Errorf("Failed to persist impact for %s: %v", ia.TxHash, err)
	}
}

func (p *Pipeline) sinkRow(w *domain.WhaleTransaction, ia *domain.ImpactAnalysis) {
	if p.sink == nil {
		return
	}

	row := clickhouse.WhaleEventRow{
		EventTime:       w.Timestamp,
		TxHash:          w.TxHash,
		Wallet:          w.Wallet,
		PoolAddress:     w.PoolAddress,
		Token:           w.Token,
		Side:            string(w.Side),
		AmountUSD:       formatUSD(w.AmountUSD),
		BlockNumber:     w.BlockNumber,
		Severity:        string(ia.Severity),
		PriceImpact:     ia.PriceImpact,
		LiquidityImpact: ia.LiquidityImpact,
		VolumeSpike:     ia.VolumeSpike,
		AffectedPools:   uint16(len(ia.AffectedPools)),
		CascadeDetected: ia.CascadeDetected,
	}

	if err := p.sink.Enqueue(row); err != nil {
		p.log.Errorf("Failed to enqueue analytic row for %s: %v", w.TxHash, err)
	}
}

// Decimal(20,6) column, keep the string representation exact.
func formatUSD(v float64) string {
	return decimal.NewFromFloat(v).Round(6).String()
}
