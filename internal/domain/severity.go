package domain

// Four-level classification derived from absolute price impact
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Fixed breakpoints: >=10 critical, >=5 high, >=2 medium, else low
func SeverityForImpact(priceImpactPct float64) Severity {
	abs := priceImpactPct
	if abs < 0 {
		abs = -abs
	}

	switch {
	case abs >= 10:
		return SeverityCritical
	case abs >= 5:
		return SeverityHigh
	case abs >= 2:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Rank for ordering: low < medium < high < critical
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}
