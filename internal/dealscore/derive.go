package dealscore

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"dealwatch/internal/model"
)

// FactorInputs gathers everything needed to derive the seven sub-scores for
// one observation. Callers source the collaborator data (all-time low, store
// trust policy, forecast) so derivation stays a pure computation.
type FactorInputs struct {
	Observation model.PriceObservation
	History     []model.PriceObservation
	AllTimeLow  decimal.Decimal

	// StoreTrust is the policy trust rating for the observing store, 0-100.
	StoreTrust float64
	// RegionMatch reports whether the observation's region is usable by the
	// requesting user.
	RegionMatch bool
	// EditionValue is the policy value rating for the edition, 0-100.
	EditionValue float64
	// DropProbability is the short-horizon forecast drop probability, 0-100.
	// Negative means no forecast is available.
	DropProbability float64
	// SaleEndsIn is the remaining sale window when known, zero otherwise.
	SaleEndsIn time.Duration
}

// DeriveBreakdown builds a Breakdown from raw inputs. Every sub-score is
// clamped into [0,100], so the result is always valid engine input.
func DeriveBreakdown(in FactorInputs) Breakdown {
	return Breakdown{
		HistoricalLow:   historicalLowFactor(in.Observation.CurrentPrice, in.AllTimeLow),
		Prediction:      predictionFactor(in.DropProbability),
		StoreTrust:      clampSub(in.StoreTrust),
		PriceTrend:      priceTrendFactor(in.History, in.Observation),
		Region:          regionFactor(in.RegionMatch),
		Edition:         clampSub(in.EditionValue),
		TimeSensitivity: timeSensitivityFactor(in.Observation, in.SaleEndsIn),
	}
}

// historicalLowFactor rewards prices at or near the all-time low. A price at
// the low scores 100; every percent above it costs one point.
func historicalLowFactor(current, allTimeLow decimal.Decimal) float64 {
	if allTimeLow.LessThanOrEqual(decimal.Zero) {
		return 50
	}
	if current.LessThanOrEqual(allTimeLow) {
		return 100
	}
	pctAbove := current.Sub(allTimeLow).Div(allTimeLow).InexactFloat64() * 100
	return clampSub(100 - pctAbove)
}

// predictionFactor converts the forecast drop probability into a buy-now
// factor: the more certain a coming drop, the weaker today's deal.
func predictionFactor(dropProbability float64) float64 {
	if dropProbability < 0 {
		return 50
	}
	return clampSub(100 - dropProbability)
}

// priceTrendFactor looks at the last 30 days of history. A rising price makes
// the current offer more attractive; a falling one less so.
func priceTrendFactor(history []model.PriceObservation, obs model.PriceObservation) float64 {
	cutoff := obs.ObservedAt.Add(-30 * 24 * time.Hour)
	window := make([]model.PriceObservation, 0, len(history))
	for _, h := range history {
		if !h.ObservedAt.Before(cutoff) && h.ObservedAt.Before(obs.ObservedAt) {
			window = append(window, h)
		}
	}
	if len(window) == 0 {
		return 50
	}
	sort.Slice(window, func(i, j int) bool { return window[i].ObservedAt.Before(window[j].ObservedAt) })

	oldest := window[0].CurrentPrice
	if oldest.LessThanOrEqual(decimal.Zero) {
		return 50
	}
	changePct := obs.CurrentPrice.Sub(oldest).Div(oldest).InexactFloat64() * 100
	return clampSub(50 + changePct)
}

func regionFactor(match bool) float64 {
	if match {
		return 100
	}
	return 40
}

// timeSensitivityFactor rewards offers about to expire. Unlimited or unknown
// windows sit at a low baseline; an active discount lifts it slightly.
func timeSensitivityFactor(obs model.PriceObservation, saleEndsIn time.Duration) float64 {
	switch {
	case saleEndsIn > 0 && saleEndsIn <= 24*time.Hour:
		return 95
	case saleEndsIn > 0 && saleEndsIn <= 72*time.Hour:
		return 80
	case saleEndsIn > 0 && saleEndsIn <= 7*24*time.Hour:
		return 60
	case obs.Discount().GreaterThan(decimal.Zero):
		return 45
	default:
		return 30
	}
}

func clampSub(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
