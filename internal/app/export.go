package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"dealwatch/internal/model"
)

// Export renders a game's price history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.GameID == "" {
		return errors.New("--game must be provided")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-a.Config.Scoring.HistoryWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	history, err := store.ListHistory(ctx, opts.GameID, from)
	if err != nil {
		return err
	}

	observations := make([]model.PriceObservation, 0, len(history))
	for _, obs := range history {
		if obs.ObservedAt.After(to) {
			continue
		}
		observations = append(observations, obs)
	}
	if len(observations) == 0 {
		a.Logger.Info().Str("game_id", opts.GameID).Msg("no observations found for export window")
		return nil
	}

	downsampled := downsampleObservations(observations, opts.MaxPoints)
	a.Logger.Info().Int("total", len(observations)).Int("exported", len(downsampled)).Msg("exporting price history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, opts.GameID, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleObservations(observations []model.PriceObservation, max int) []model.PriceObservation {
	if max <= 0 || len(observations) <= max {
		return observations
	}

	result := make([]model.PriceObservation, 0, max)
	step := float64(len(observations)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(observations) {
			idx = len(observations) - 1
		}
		result = append(result, observations[idx])
	}
	return result
}

func writeHistoryCSV(path string, observations []model.PriceObservation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"observed_at", "game_id", "store_id", "edition", "region", "currency", "current_price", "original_price", "discount_pct", "available"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, obs := range observations {
		available := "false"
		if obs.IsAvailable {
			available = "true"
		}
		record := []string{
			obs.ObservedAt.UTC().Format(time.RFC3339),
			obs.GameID,
			obs.StoreID,
			obs.Edition,
			obs.Region,
			obs.Currency,
			obs.CurrentPrice.String(),
			obs.OriginalPrice.String(),
			obs.Discount().Mul(decimal.NewFromInt(100)).Round(1).String(),
			available,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeHistoryPNG(path, gameID string, observations []model.PriceObservation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(observations))
	current := make([]float64, len(observations))
	original := make([]float64, len(observations))

	for i, obs := range observations {
		x[i] = obs.ObservedAt
		current[i] = obs.CurrentPrice.InexactFloat64()
		original[i] = obs.OriginalPrice.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  gameID,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Current",
				XValues: x,
				YValues: current,
			},
			chart.TimeSeries{
				Name:    "Original",
				XValues: x,
				YValues: original,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
