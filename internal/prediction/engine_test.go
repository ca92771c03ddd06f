package prediction

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dealwatch/internal/model"
)

var seriesStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func obsAt(day int, price string) model.PriceObservation {
	return model.PriceObservation{
		GameID:       "g1",
		StoreID:      "steam",
		Currency:     "USD",
		CurrentPrice: decimal.RequireFromString(price),
		IsAvailable:  true,
		ObservedAt:   seriesStart.Add(time.Duration(day) * 24 * time.Hour),
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

// steadyNearLowHistory holds a calm decline settling at the all-time low.
func steadyNearLowHistory() []model.PriceObservation {
	prices := []string{"31.99", "31.49", "30.99", "30.99", "30.49", "30.49", "29.99", "29.99", "29.99", "29.99"}
	history := make([]model.PriceObservation, 0, len(prices))
	for i, p := range prices {
		history = append(history, obsAt(i*3, p))
	}
	return history
}

// recurringSaleHistory has two sale events sixty days apart with a stable
// full price in between. Observations end at endDay's price step.
func recurringSaleHistory() []model.PriceObservation {
	points := []struct {
		day   int
		price string
	}{
		{0, "59.99"}, {5, "39.99"}, {7, "39.99"}, {12, "58.99"}, {20, "59.49"},
		{30, "58.99"}, {40, "59.99"}, {50, "58.49"}, {60, "59.49"}, {65, "39.99"},
		{67, "39.99"}, {72, "58.99"}, {80, "58.49"}, {90, "57.99"}, {95, "57.99"},
	}
	history := make([]model.PriceObservation, 0, len(points))
	for _, p := range points {
		history = append(history, obsAt(p.day, p.price))
	}
	return history
}

// shallowDiscountHistory carries the same sale rhythm but the latest
// observation is barely discounted and the next sale is over a month out.
func shallowDiscountHistory() []model.PriceObservation {
	points := []struct {
		day   int
		price string
	}{
		{0, "59.99"}, {5, "39.99"}, {7, "39.99"}, {12, "58.99"}, {20, "59.49"},
		{30, "58.99"}, {40, "59.99"}, {50, "58.49"}, {60, "59.49"}, {65, "39.99"},
		{67, "39.99"}, {72, "58.99"},
	}
	history := make([]model.PriceObservation, 0, len(points)+1)
	for _, p := range points {
		history = append(history, obsAt(p.day, p.price))
	}
	last := obsAt(80, "57.99")
	last.OriginalPrice = decimal.RequireFromString("59.99")
	history = append(history, last)
	return history
}

func TestPredictInsufficientHistory(t *testing.T) {
	engine := newTestEngine(t)
	now := seriesStart.Add(40 * 24 * time.Hour)

	cases := []struct {
		name    string
		history []model.PriceObservation
	}{
		{"empty", nil},
		{"two points", []model.PriceObservation{obsAt(0, "19.99"), obsAt(10, "17.99")}},
		{"one distinct price", []model.PriceObservation{
			obsAt(0, "19.99"), obsAt(8, "19.99"), obsAt(16, "19.99"), obsAt(24, "19.99"), obsAt(30, "19.99"),
		}},
		{"short span", []model.PriceObservation{
			obsAt(0, "19.99"), obsAt(3, "18.99"), obsAt(6, "17.99"), obsAt(10, "16.99"),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Predict(tc.history, decimal.RequireFromString("19.99"), now)
			var insufficient *InsufficientHistoryError
			if !errors.As(err, &insufficient) {
				t.Fatalf("expected InsufficientHistoryError, got %v", err)
			}
			if insufficient.Need != DefaultPolicy.MinObservations {
				t.Fatalf("expected Need=%d, got %d", DefaultPolicy.MinObservations, insufficient.Need)
			}
		})
	}
}

func TestPredictConfidenceMonotonicity(t *testing.T) {
	engine := newTestEngine(t)

	fixtures := []struct {
		name    string
		history []model.PriceObservation
		current string
		nowDay  int
	}{
		{"steady near low", steadyNearLowHistory(), "29.99", 27},
		{"recurring sales", recurringSaleHistory(), "57.99", 100},
		{"shallow discount", shallowDiscountHistory(), "57.99", 80},
	}

	for _, fx := range fixtures {
		t.Run(fx.name, func(t *testing.T) {
			now := seriesStart.Add(time.Duration(fx.nowDay) * 24 * time.Hour)
			pred, err := engine.Predict(fx.history, decimal.RequireFromString(fx.current), now)
			if err != nil {
				t.Fatalf("Predict: %v", err)
			}
			if len(pred.Horizons) != len(Horizons) {
				t.Fatalf("expected %d horizons, got %d", len(Horizons), len(pred.Horizons))
			}
			for i, f := range pred.Horizons {
				if f.Days != Horizons[i] {
					t.Fatalf("horizon %d: expected %d days, got %d", i, Horizons[i], f.Days)
				}
				if f.Confidence < 0 || f.Confidence > 100 {
					t.Fatalf("confidence out of range: %.1f", f.Confidence)
				}
				if f.DropProbability < 0 || f.DropProbability > 100 {
					t.Fatalf("drop probability out of range: %.1f", f.DropProbability)
				}
				if i > 0 && f.Confidence > pred.Horizons[i-1].Confidence {
					t.Fatalf("confidence must not increase with horizon: %d days %.1f > %d days %.1f",
						f.Days, f.Confidence, pred.Horizons[i-1].Days, pred.Horizons[i-1].Confidence)
				}
			}
		})
	}
}

func TestPredictStrongBuyAtLow(t *testing.T) {
	engine := newTestEngine(t)
	now := seriesStart.Add(27 * 24 * time.Hour)

	pred, err := engine.Predict(steadyNearLowHistory(), decimal.RequireFromString("29.99"), now)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred.Recommendation != RecommendStrongBuy {
		t.Fatalf("expected strong-buy, got %s (%s)", pred.Recommendation, pred.Reasoning)
	}
	if pred.Reasoning == "" {
		t.Fatal("reasoning must not be empty")
	}
	if pred.LastUpdated != now {
		t.Fatalf("LastUpdated must be the supplied instant, got %s", pred.LastUpdated)
	}
}

func TestPredictWaitWhenSaleIsNear(t *testing.T) {
	engine := newTestEngine(t)
	now := seriesStart.Add(100 * 24 * time.Hour)

	pred, err := engine.Predict(recurringSaleHistory(), decimal.RequireFromString("57.99"), now)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred.Recommendation != RecommendWait {
		t.Fatalf("expected wait, got %s (%s)", pred.Recommendation, pred.Reasoning)
	}

	// The 30-day horizon should carry the projected sale price.
	for _, f := range pred.Horizons {
		if f.Days == 30 && f.PredictedPrice.GreaterThan(decimal.RequireFromString("52.19")) {
			t.Fatalf("30-day forecast should reflect the coming sale, got %s", f.PredictedPrice)
		}
	}
}

func TestPredictStrongWaitOnShallowDiscount(t *testing.T) {
	engine := newTestEngine(t)
	now := seriesStart.Add(80 * 24 * time.Hour)

	pred, err := engine.Predict(shallowDiscountHistory(), decimal.RequireFromString("57.99"), now)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred.Recommendation != RecommendStrongWait {
		t.Fatalf("expected strong-wait, got %s (%s)", pred.Recommendation, pred.Reasoning)
	}
}

func TestPredictDeterministic(t *testing.T) {
	engine := newTestEngine(t)
	now := seriesStart.Add(100 * 24 * time.Hour)
	history := recurringSaleHistory()
	current := decimal.RequireFromString("57.99")

	first, err := engine.Predict(history, current, now)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	second, err := engine.Predict(history, current, now)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	if first.Recommendation != second.Recommendation || first.Reasoning != second.Reasoning {
		t.Fatal("prediction must be deterministic for identical input")
	}
	for i := range first.Horizons {
		if !first.Horizons[i].PredictedPrice.Equal(second.Horizons[i].PredictedPrice) ||
			first.Horizons[i].Confidence != second.Horizons[i].Confidence ||
			first.Horizons[i].DropProbability != second.Horizons[i].DropProbability {
			t.Fatalf("horizon %d differs between runs", first.Horizons[i].Days)
		}
	}
}

func TestPredictFlooredNearHistoricalLow(t *testing.T) {
	engine := newTestEngine(t)
	now := seriesStart.Add(100 * 24 * time.Hour)

	pred, err := engine.Predict(recurringSaleHistory(), decimal.RequireFromString("57.99"), now)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	floor := decimal.RequireFromString("39.99").Mul(decimal.RequireFromString("0.95")).Round(2)
	for _, f := range pred.Horizons {
		if f.PredictedPrice.LessThan(floor) {
			t.Fatalf("%d-day forecast %s below floor %s", f.Days, f.PredictedPrice, floor)
		}
	}
}
