// Package prediction forecasts price movement from a historical observation
// series and derives a reproducible buy/wait recommendation. The engine is a
// pure function of its inputs plus policy constants.
package prediction

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"dealwatch/internal/model"
)

// HorizonForecast is the predicted price, confidence, and drop probability
// for one future day-count.
type HorizonForecast struct {
	Days            int             `json:"days"`
	PredictedPrice  decimal.Decimal `json:"predictedPrice"`
	Confidence      float64         `json:"confidence"`
	DropProbability float64         `json:"dropProbability"`
}

// Prediction is the per-game forecast bundle. It is replaced wholesale on
// recomputation, never patched.
type Prediction struct {
	Horizons       []HorizonForecast `json:"horizons"`
	Recommendation Recommendation    `json:"recommendation"`
	Reasoning      string            `json:"reasoning"`
	LastUpdated    time.Time         `json:"lastUpdated"`
}

// Engine produces predictions under a fixed policy.
type Engine struct {
	policy Policy
}

// NewEngine validates the policy and returns a prediction engine.
func NewEngine(p Policy) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Engine{policy: p}, nil
}

// Predict forecasts each horizon and derives the recommendation. The caller
// supplies now so the computation stays reproducible.
func (e *Engine) Predict(history []model.PriceObservation, currentPrice decimal.Decimal, now time.Time) (Prediction, error) {
	series := buildSeries(history, now)
	if err := e.checkSufficiency(series); err != nil {
		return Prediction{}, err
	}

	current := currentPrice.InexactFloat64()
	stats := series.stats()
	cadence := detectSaleCadence(series, stats.mean, e.policy.SaleThresholdPct)

	base := baseConfidence(stats)
	forecasts := make([]HorizonForecast, 0, len(Horizons))
	for _, days := range Horizons {
		predicted := e.forecastPrice(series, stats, cadence, current, days)
		forecasts = append(forecasts, HorizonForecast{
			Days:            days,
			PredictedPrice:  decimal.NewFromFloat(predicted).Round(2),
			Confidence:      horizonConfidence(base, days),
			DropProbability: dropProbability(series, current, predicted),
		})
	}

	// Farther forecasts must never claim more certainty than nearer ones,
	// regardless of how the underlying model behaved.
	for i := 1; i < len(forecasts); i++ {
		if forecasts[i].Confidence > forecasts[i-1].Confidence {
			forecasts[i].Confidence = forecasts[i-1].Confidence
		}
	}

	recommendation, reasoning := e.recommend(series, stats, forecasts, currentPrice)

	return Prediction{
		Horizons:       forecasts,
		Recommendation: recommendation,
		Reasoning:      reasoning,
		LastUpdated:    now.UTC(),
	}, nil
}

func (e *Engine) checkSufficiency(s series) error {
	distinct := s.distinctPrices()
	if distinct < e.policy.MinObservations || s.span() < e.policy.MinSpan {
		return &InsufficientHistoryError{
			Have:    distinct,
			Need:    e.policy.MinObservations,
			Span:    s.span(),
			MinSpan: e.policy.MinSpan,
		}
	}
	return nil
}

// forecastPrice extrapolates the trend line and pulls the estimate down to
// the typical sale price when the sale cadence lands inside the horizon. The
// result is floored just beneath the all-time low.
func (e *Engine) forecastPrice(s series, st seriesStats, c saleCadence, current float64, days int) float64 {
	predicted := current + st.slope*float64(days)

	if c.detected && c.nextSaleInDays >= 0 && c.nextSaleInDays <= float64(days) {
		if c.avgSalePrice < predicted {
			predicted = c.avgSalePrice
		}
	}

	floor := st.low * (1 - e.policy.FloorBelowLowPct/100)
	if predicted < floor {
		predicted = floor
	}
	if predicted < 0.01 {
		predicted = 0.01
	}
	return predicted
}

// series is the observation history flattened to (day offset, price) points,
// sorted by time. dayNow is the offset of the evaluation instant.
type series struct {
	days   []float64
	prices []float64
	latest model.PriceObservation
	dayNow float64
	start  time.Time
}

func buildSeries(history []model.PriceObservation, now time.Time) series {
	if len(history) == 0 {
		return series{}
	}
	sorted := make([]model.PriceObservation, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ObservedAt.Before(sorted[j].ObservedAt) })

	start := sorted[0].ObservedAt
	s := series{
		days:   make([]float64, 0, len(sorted)),
		prices: make([]float64, 0, len(sorted)),
		latest: sorted[len(sorted)-1],
		start:  start,
		dayNow: now.Sub(start).Hours() / 24,
	}
	for _, obs := range sorted {
		s.days = append(s.days, obs.ObservedAt.Sub(start).Hours()/24)
		s.prices = append(s.prices, obs.CurrentPrice.InexactFloat64())
	}
	return s
}

func (s series) span() time.Duration {
	if len(s.days) == 0 {
		return 0
	}
	return time.Duration(s.days[len(s.days)-1] * 24 * float64(time.Hour))
}

func (s series) distinctPrices() int {
	seen := make(map[float64]struct{}, len(s.prices))
	for _, p := range s.prices {
		seen[p] = struct{}{}
	}
	return len(seen)
}

type seriesStats struct {
	mean  float64
	std   float64
	low   float64
	slope float64
}

func (s series) stats() seriesStats {
	n := float64(len(s.prices))
	if n == 0 {
		return seriesStats{}
	}

	sum := 0.0
	low := s.prices[0]
	for _, p := range s.prices {
		sum += p
		if p < low {
			low = p
		}
	}
	mean := sum / n

	variance := 0.0
	for _, p := range s.prices {
		variance += (p - mean) * (p - mean)
	}
	variance /= n

	return seriesStats{
		mean:  mean,
		std:   math.Sqrt(variance),
		low:   low,
		slope: s.trendSlope(),
	}
}

// trendSlope is the least-squares price change per day.
func (s series) trendSlope() float64 {
	n := float64(len(s.days))
	if n < 2 {
		return 0
	}
	xMean, yMean := 0.0, 0.0
	for i := range s.days {
		xMean += s.days[i]
		yMean += s.prices[i]
	}
	xMean /= n
	yMean /= n

	sxy, sxx := 0.0, 0.0
	for i := range s.days {
		dx := s.days[i] - xMean
		sxy += dx * (s.prices[i] - yMean)
		sxx += dx * dx
	}
	if sxx == 0 {
		return 0
	}
	return sxy / sxx
}

// saleCadence captures the rhythm of recurring sales in the history.
type saleCadence struct {
	detected       bool
	intervalDays   float64
	nextSaleInDays float64
	avgSalePrice   float64
}

// detectSaleCadence groups observations priced well below the mean into sale
// events and, given at least two events, projects when the next one lands.
// Sale observations within seven days of each other count as one event.
func detectSaleCadence(s series, mean, thresholdPct float64) saleCadence {
	threshold := mean * (1 - thresholdPct/100)

	var eventStarts []float64
	var salePrices []float64
	lastSaleDay := math.Inf(-1)
	for i := range s.prices {
		if s.prices[i] > threshold {
			continue
		}
		if s.days[i]-lastSaleDay > 7 {
			eventStarts = append(eventStarts, s.days[i])
		}
		lastSaleDay = s.days[i]
		salePrices = append(salePrices, s.prices[i])
	}

	if len(eventStarts) < 2 {
		return saleCadence{}
	}

	interval := (eventStarts[len(eventStarts)-1] - eventStarts[0]) / float64(len(eventStarts)-1)
	sum := 0.0
	for _, p := range salePrices {
		sum += p
	}

	sinceLast := s.dayNow - eventStarts[len(eventStarts)-1]
	next := interval - sinceLast
	if next < 0 {
		next = 0
	}

	return saleCadence{
		detected:       true,
		intervalDays:   interval,
		nextSaleInDays: next,
		avgSalePrice:   sum / float64(len(salePrices)),
	}
}

// baseConfidence maps historical volatility (coefficient of variation) to a
// starting confidence before horizon decay.
func baseConfidence(st seriesStats) float64 {
	cv := 0.0
	if st.mean > 0 {
		cv = st.std / st.mean
	}
	base := 95 - 120*cv
	if base < 20 {
		base = 20
	}
	if base > 95 {
		base = 95
	}
	return base
}

func horizonConfidence(base float64, days int) float64 {
	return math.Round(base * 240 / (240 + float64(days)))
}

// dropProbability estimates how likely the price lands below current: how
// often history sat below current, pulled by the forecast gap.
func dropProbability(s series, current, predicted float64) float64 {
	if current <= 0 {
		return 0
	}
	below := 0
	for _, p := range s.prices {
		if p < current {
			below++
		}
	}
	histFrac := 100 * float64(below) / float64(len(s.prices))
	rel := (current - predicted) / current

	p := 0.7*histFrac + 300*rel
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return math.Round(p)
}
