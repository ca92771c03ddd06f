package prediction

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// recommend applies the decision table in fixed order: strong-buy, buy, wait,
// strong-wait, defaulting to wait. The reasoning string is assembled from the
// same numbers the decision used, so it is fully reproducible.
func (e *Engine) recommend(s series, st seriesStats, forecasts []HorizonForecast, currentPrice decimal.Decimal) (Recommendation, string) {
	current := currentPrice.InexactFloat64()
	p := e.policy

	pctAboveLow := 100.0
	if st.low > 0 {
		pctAboveLow = 100 * (current - st.low) / st.low
	}

	short := forecasts[0]

	if pctAboveLow <= p.StrongBuyLowTolerancePct &&
		short.Confidence >= p.StrongBuyMinConfidence &&
		short.DropProbability <= p.StrongBuyMaxDropProb {
		return RecommendStrongBuy, fmt.Sprintf(
			"price %.2f is within %.0f%% of the all-time low %.2f; %d-day drop probability %.0f at confidence %.0f",
			current, p.StrongBuyLowTolerancePct, st.low, short.Days, short.DropProbability, short.Confidence)
	}

	waitForecast, waitOK := e.materialDrop(forecasts, current, p.WaitDropPct, p.WaitMinConfidence, 14, 30)

	if pctAboveLow <= p.BuyLowTolerancePct && !waitOK {
		return RecommendBuy, fmt.Sprintf(
			"price %.2f is %.1f%% above the all-time low %.2f with no confident drop forecast",
			current, pctAboveLow, st.low)
	}

	if waitOK {
		dropPct := 100 * (current - waitForecast.PredictedPrice.InexactFloat64()) / current
		return RecommendWait, fmt.Sprintf(
			"a drop to %.2f (%.1f%% below current %.2f) is forecast at %d days with confidence %.0f; all-time low is %.2f",
			waitForecast.PredictedPrice.InexactFloat64(), dropPct, current, waitForecast.Days, waitForecast.Confidence, st.low)
	}

	discountPct := s.latest.Discount().InexactFloat64() * 100
	if strongForecast, ok := e.materialDrop(forecasts, current, p.StrongWaitDropPct, p.StrongWaitMinConfidence, 7, 14, 30, 90); ok && discountPct < p.MinDiscountPct {
		dropPct := 100 * (current - strongForecast.PredictedPrice.InexactFloat64()) / current
		return RecommendStrongWait, fmt.Sprintf(
			"current discount %.0f%% is minimal; a %.1f%% drop to %.2f is forecast at %d days with confidence %.0f",
			discountPct, dropPct, strongForecast.PredictedPrice.InexactFloat64(), strongForecast.Days, strongForecast.Confidence)
	}

	return RecommendWait, fmt.Sprintf(
		"no decisive signal: price %.2f against all-time low %.2f, nearest forecast %.2f at %d days with confidence %.0f",
		current, st.low, short.PredictedPrice.InexactFloat64(), short.Days, short.Confidence)
}

// materialDrop finds the first listed horizon forecasting at least dropPct
// below current with the required confidence.
func (e *Engine) materialDrop(forecasts []HorizonForecast, current, dropPct, minConfidence float64, days ...int) (HorizonForecast, bool) {
	ceiling := current * (1 - dropPct/100)
	for _, d := range days {
		for _, f := range forecasts {
			if f.Days != d {
				continue
			}
			if f.PredictedPrice.InexactFloat64() <= ceiling && f.Confidence >= minConfidence {
				return f, true
			}
		}
	}
	return HorizonForecast{}, false
}
