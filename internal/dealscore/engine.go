// Package dealscore turns seven weighted deal factors into a single 0-100
// score with an explainable per-factor breakdown. The engine is pure: no
// clock, no randomness, no shared state.
package dealscore

import (
	"fmt"
	"math"
)

// Breakdown carries the seven independently computed sub-scores. Every
// sub-score must already be within [0,100]; the engine refuses out-of-range
// input instead of clamping upstream mistakes.
type Breakdown struct {
	HistoricalLow   float64
	Prediction      float64
	StoreTrust      float64
	PriceTrend      float64
	Region          float64
	Edition         float64
	TimeSensitivity float64
}

// InvalidFactorError names the factor whose sub-score fell outside [0,100].
type InvalidFactorError struct {
	Factor Factor
	Value  float64
}

func (e *InvalidFactorError) Error() string {
	return fmt.Sprintf("factor %s out of range: %.2f not in [0,100]", e.Factor, e.Value)
}

// Tier is the coarse display bucket derived from a score. Tiers are
// recomputed on demand and never persisted, so threshold changes cannot
// drift against stored scores.
type Tier string

const (
	TierLegendary Tier = "legendary"
	TierExcellent Tier = "excellent"
	TierGood      Tier = "good"
	TierFair      Tier = "fair"
	TierPoor      Tier = "poor"
)

// TierFor buckets a composite score.
func TierFor(score int) Tier {
	switch {
	case score >= 90:
		return TierLegendary
	case score >= 75:
		return TierExcellent
	case score >= 50:
		return TierGood
	case score >= 30:
		return TierFair
	default:
		return TierPoor
	}
}

// FactorContribution is one row of the audit breakdown exposed to consumers.
type FactorContribution struct {
	Factor               Factor  `json:"factor"`
	Weight               int     `json:"weight"`
	SubScore             float64 `json:"subScore"`
	WeightedContribution int     `json:"weightedContribution"`
}

// Engine computes composite deal scores under a fixed weight policy.
type Engine struct {
	weights Weights
}

// NewEngine validates the weight policy and returns a scoring engine.
func NewEngine(w Weights) (*Engine, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Engine{weights: w}, nil
}

// Weights reports the policy the engine scores under.
func (e *Engine) Weights() Weights {
	return e.weights
}

// Compute produces the composite score and tier for a breakdown. Identical
// input always yields identical output.
func (e *Engine) Compute(b Breakdown) (int, Tier, error) {
	subs, err := e.subScores(b)
	if err != nil {
		return 0, "", err
	}

	total := 0.0
	for _, sub := range subs {
		total += float64(sub.weight) * sub.value / 100
	}

	score := int(math.Round(total))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, TierFor(score), nil
}

// Explain exposes weight, sub-score, and rounded weighted contribution per
// factor. The contributions sum to the composite score within a rounding
// tolerance of one point per factor.
func (e *Engine) Explain(b Breakdown) ([]FactorContribution, error) {
	subs, err := e.subScores(b)
	if err != nil {
		return nil, err
	}

	contributions := make([]FactorContribution, 0, len(subs))
	for _, sub := range subs {
		contributions = append(contributions, FactorContribution{
			Factor:               sub.factor,
			Weight:               sub.weight,
			SubScore:             sub.value,
			WeightedContribution: int(math.Round(sub.value * float64(sub.weight) / 100)),
		})
	}
	return contributions, nil
}

type subScore struct {
	factor Factor
	weight int
	value  float64
}

func (e *Engine) subScores(b Breakdown) ([]subScore, error) {
	values := map[Factor]float64{
		FactorHistoricalLow:   b.HistoricalLow,
		FactorPrediction:      b.Prediction,
		FactorStoreTrust:      b.StoreTrust,
		FactorPriceTrend:      b.PriceTrend,
		FactorRegion:          b.Region,
		FactorEdition:         b.Edition,
		FactorTimeSensitivity: b.TimeSensitivity,
	}

	subs := make([]subScore, 0, len(values))
	for _, entry := range e.weights.ordered() {
		value := values[entry.factor]
		if value < 0 || value > 100 || math.IsNaN(value) {
			return nil, &InvalidFactorError{Factor: entry.factor, Value: value}
		}
		subs = append(subs, subScore{factor: entry.factor, weight: entry.weight, value: value})
	}
	return subs, nil
}
