package prediction

import (
	"fmt"
	"time"
)

// Recommendation is the user-facing buy/wait verdict.
type Recommendation string

const (
	RecommendStrongBuy  Recommendation = "strong-buy"
	RecommendBuy        Recommendation = "buy"
	RecommendWait       Recommendation = "wait"
	RecommendStrongWait Recommendation = "strong-wait"
)

// Horizons are the forecast day-counts, shortest first.
var Horizons = []int{7, 14, 30, 90}

// Policy collects the forecasting and recommendation thresholds. The values
// are a default policy, tunable per deployment, not a fixed contract.
type Policy struct {
	// MinObservations is the minimum number of distinct price points required.
	MinObservations int
	// MinSpan is the minimum time covered by the history.
	MinSpan time.Duration

	// StrongBuyLowTolerancePct: price within this percent of the all-time low.
	StrongBuyLowTolerancePct float64
	// BuyLowTolerancePct: price reasonably close to the all-time low.
	BuyLowTolerancePct float64
	// WaitDropPct: a materially lower price forecast at 14 or 30 days.
	WaitDropPct float64
	// StrongWaitDropPct: a large drop forecast within 90 days.
	StrongWaitDropPct float64
	// MinDiscountPct: below this current discount an offer counts as minimal.
	MinDiscountPct float64

	StrongBuyMinConfidence  float64
	StrongBuyMaxDropProb    float64
	WaitMinConfidence       float64
	StrongWaitMinConfidence float64

	// FloorBelowLowPct bounds forecasts at this percent beneath the all-time
	// low; history gives no evidence for prices further down.
	FloorBelowLowPct float64
	// SaleThresholdPct marks an observation as a sale when its price sits this
	// percent below the historical mean.
	SaleThresholdPct float64
}

// DefaultPolicy matches the decision table documented for the engine.
var DefaultPolicy = Policy{
	MinObservations:          3,
	MinSpan:                  14 * 24 * time.Hour,
	StrongBuyLowTolerancePct: 5,
	BuyLowTolerancePct:       20,
	WaitDropPct:              10,
	StrongWaitDropPct:        25,
	MinDiscountPct:           15,
	StrongBuyMinConfidence:   85,
	StrongBuyMaxDropProb:     15,
	WaitMinConfidence:        60,
	StrongWaitMinConfidence:  50,
	FloorBelowLowPct:         5,
	SaleThresholdPct:         10,
}

// Validate sanity-checks the policy values.
func (p Policy) Validate() error {
	if p.MinObservations < 2 {
		return fmt.Errorf("prediction policy: min_observations must be at least 2")
	}
	if p.MinSpan <= 0 {
		return fmt.Errorf("prediction policy: min_span must be positive")
	}
	if p.SaleThresholdPct <= 0 || p.SaleThresholdPct >= 100 {
		return fmt.Errorf("prediction policy: sale_threshold_pct must be within (0,100)")
	}
	return nil
}

// InsufficientHistoryError reports that a price history cannot support a
// forecast. Callers surface a "not enough data" state instead of retrying.
type InsufficientHistoryError struct {
	Have    int
	Need    int
	Span    time.Duration
	MinSpan time.Duration
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history: %d distinct price points over %s (need %d over %s)",
		e.Have, e.Span.Truncate(time.Hour), e.Need, e.MinSpan)
}
