package dealscore

import "fmt"

// Factor names one of the seven scored deal factors.
type Factor string

const (
	FactorHistoricalLow   Factor = "historicalLow"
	FactorPrediction      Factor = "prediction"
	FactorStoreTrust      Factor = "storeTrust"
	FactorPriceTrend      Factor = "priceTrend"
	FactorRegion          Factor = "regionCompatibility"
	FactorEdition         Factor = "editionValue"
	FactorTimeSensitivity Factor = "timeSensitivity"
)

// Weights is a versioned scoring policy. Changing a weight is an explicit,
// auditable policy revision, so the version string travels with the values.
type Weights struct {
	Version         string
	HistoricalLow   int
	Prediction      int
	StoreTrust      int
	PriceTrend      int
	Region          int
	Edition         int
	TimeSensitivity int
}

// DefaultWeights is the current scoring policy. Weights sum to 100.
var DefaultWeights = Weights{
	Version:         "2024-10",
	HistoricalLow:   25,
	Prediction:      20,
	StoreTrust:      15,
	PriceTrend:      15,
	Region:          10,
	Edition:         10,
	TimeSensitivity: 5,
}

// Validate checks that every weight is non-negative and the policy sums to 100.
func (w Weights) Validate() error {
	sum := 0
	for _, entry := range w.ordered() {
		if entry.weight < 0 {
			return fmt.Errorf("weight for %s must not be negative", entry.factor)
		}
		sum += entry.weight
	}
	if sum != 100 {
		return fmt.Errorf("weights must sum to 100, got %d", sum)
	}
	return nil
}

type weightEntry struct {
	factor Factor
	weight int
}

// ordered returns the factors in their fixed presentation order.
func (w Weights) ordered() []weightEntry {
	return []weightEntry{
		{FactorHistoricalLow, w.HistoricalLow},
		{FactorPrediction, w.Prediction},
		{FactorStoreTrust, w.StoreTrust},
		{FactorPriceTrend, w.PriceTrend},
		{FactorRegion, w.Region},
		{FactorEdition, w.Edition},
		{FactorTimeSensitivity, w.TimeSensitivity},
	}
}
