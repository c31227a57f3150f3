package domain

import (
	"fmt"
	"time"
)

// Closed set of alert categories. Anything else is rejected at creation.
type AlertType string

const (
	AlertWhaleDetected  AlertType = "whale_detected"
	AlertLargeTrade     AlertType = "large_trade"
	AlertTVLChange      AlertType = "tvl_change"
	AlertPriceImpact    AlertType = "price_impact"
	AlertVolumeSpike    AlertType = "volume_spike"
	AlertLiquidityDrain AlertType = "liquidity_drain"
)

func (t AlertType) Valid() bool {
	switch t {
	case AlertWhaleDetected, AlertLargeTrade, AlertTVLChange,
		AlertPriceImpact, AlertVolumeSpike, AlertLiquidityDrain:
		return true
	}
	return false
}

type Condition string

const (
	CondGTE Condition = ">="
	CondGT  Condition = ">"
	CondLTE Condition = "<="
	CondLT  Condition = "<"
	CondEQ  Condition = "="
)

func (c Condition) Valid() bool {
	switch c {
	case CondGTE, CondGT, CondLTE, CondLT, CondEQ:
		return true
	}
	return false
}

// Evaluate value against threshold
func (c Condition) Match(value, threshold float64) bool {
	switch c {
	case CondGTE:
		return value >= threshold
	case CondGT:
		return value > threshold
	case CondLTE:
		return value <= threshold
	case CondLT:
		return value < threshold
	case CondEQ:
		return value == threshold
	}
	return false
}

// User alert rule. The registry mutates TriggeredCount/LastTriggered in place,
// everything else changes only through explicit user actions.
type Alert struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Type           AlertType `json:"type"`
	Condition      Condition `json:"condition"`
	Threshold      float64   `json:"threshold"`
	PoolAddress    string    `json:"pool_address,omitempty"`   // optional filter
	WalletAddress  string    `json:"wallet_address,omitempty"` // optional filter
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"created_at"`
	TriggeredCount uint64    `json:"triggered_count"`
	LastTriggered  time.Time `json:"last_triggered,omitzero"`
}

func (a *Alert) Validate() error {
	if a.UserID == "" {
		return fmt.Errorf("alert user_id is required")
	}
	if !a.Type.Valid() {
		return fmt.Errorf("unknown alert type: %q", a.Type)
	}
	if !a.Condition.Valid() {
		return fmt.Errorf("unknown alert condition: %q", a.Condition)
	}
	return nil
}

// Ephemeral, lives only on the dispatcher's outbound path.
type AlertTrigger struct {
	AlertID   string    `json:"alertId"`
	UserID    string    `json:"-"` // addressing only, not part of the payload
	Type      AlertType `json:"type"`
	Threshold float64   `json:"threshold"`
	Message   string    `json:"message"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
