package impact

import (
	"sort"
	"time"

	"whalewatch/internal/domain"

	"gitlab.com/nevasik7/alerting/logger"
)

// Secondary price movement below this (percent, absolute) is noise.
const SignificanceThresholdPct = 2.0

/*
	Computes the price/liquidity footprint of a whale transaction against
	before/after pool snapshots. Analyze never fails: unusable input degrades
	to a zero-impact record with the Degraded flag set, the pipeline must not
	stall on analysis.
*/

type Analyzer struct {
	log logger.Logger
}

func NewAnalyzer(log logger.Logger) *Analyzer {
	return &Analyzer{log: log}
}

// Analyze compares the primary pool's state around the transaction and scans
// every other tracked pool for cascade movement. The cascade scan is O(P)
// over poolsAfter, the only non-trivial cost in the pipeline.
func (a *Analyzer) Analyze(
	whale *domain.WhaleTransaction,
	poolsBefore map[string]*domain.PoolState,
	poolsAfter map[string]*domain.PoolState,
) domain.ImpactAnalysis {
	primary := domain.NormalizeAddress(whale.PoolAddress)

	out := domain.ImpactAnalysis{
		TxHash:      whale.TxHash,
		PrimaryPool: primary,
		Severity:    domain.SeverityLow,
		Timestamp:   time.Now().UTC(),
	}

	before := poolsBefore[primary]
	after := poolsAfter[primary]
	if before == nil || after == nil {
		a.log.Warnf("Impact analysis degraded for %s: primary pool %s missing from snapshots", whale.TxHash, primary)
		out.Degraded = true
		return out
	}

	pi, ok := priceImpactPct(before, after)
	if !ok {
		out.Degraded = true
	}
	out.PriceImpact = pi
	out.Severity = domain.SeverityForImpact(pi)

	if before.TVLUSD != 0 {
		out.LiquidityImpact = (after.TVLUSD - before.TVLUSD) / before.TVLUSD * 100
	}

	// 24h volume as of before the transaction, so the spike ratio does not
	// count the transaction against itself
	if vol := before.Volume24hUSD; vol > 0 {
		out.VolumeSpike = whale.AmountUSD / vol * 100
	}

	for addr, paAfter := range poolsAfter {
		if addr == primary {
			continue
		}
		paBefore, ok := poolsBefore[addr]
		if !ok {
			continue
		}
		cp, ok := priceImpactPct(paBefore, paAfter)
		if !ok {
			continue
		}
		if abs(cp) >= SignificanceThresholdPct {
			out.AffectedPools = append(out.AffectedPools, domain.AffectedPool{
				Address:     addr,
				PriceImpact: cp,
				Severity:    domain.SeverityForImpact(cp),
			})
		}
	}

	// map order is random, keep the output stable
	sort.Slice(out.AffectedPools, func(i, j int) bool {
		return out.AffectedPools[i].Address < out.AffectedPools[j].Address
	})
	out.CascadeDetected = len(out.AffectedPools) > 0

	return out
}

// ok=false when neither reserves nor a quoted price give a usable pair.
func priceImpactPct(before, after *domain.PoolState) (float64, bool) {
	pb, okB := before.SpotPrice()
	pa, okA := after.SpotPrice()
	if !okB || !okA || pb == 0 {
		return 0, false
	}
	return (pa - pb) / pb * 100, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
