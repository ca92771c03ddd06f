package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dealwatch/internal/model"
)

const observationsPath = "/v1/observations"

// HTTPSourceOptions parameterise the pipeline client.
type HTTPSourceOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// BatchLimit caps rows per fetch; zero lets the pipeline decide.
	BatchLimit int
}

// HTTPSource polls the price-ingestion pipeline for fresh observations. It
// tracks a watermark so each fetch only returns rows newer than the last.
type HTTPSource struct {
	opts    HTTPSourceOptions
	client  *http.Client
	baseURL string
	logger  zerolog.Logger

	mu    sync.Mutex
	since time.Time
}

// NewHTTPSource constructs a pipeline client.
func NewHTTPSource(opts HTTPSourceOptions, logger zerolog.Logger) *HTTPSource {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPSource{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		logger:  logger.With().Str("component", "ingest").Logger(),
	}
}

// FetchBatch pulls the next batch of observations. Rows failing validation
// are dropped with a logged reason; they must never be scored or matched.
func (s *HTTPSource) FetchBatch(ctx context.Context) ([]model.PriceObservation, error) {
	if s.baseURL == "" {
		return nil, errors.New("ingest base url not configured")
	}

	endpoint := s.baseURL + observationsPath
	query := url.Values{}
	s.mu.Lock()
	if !s.since.IsZero() {
		query.Set("since", s.since.UTC().Format(time.RFC3339))
	}
	s.mu.Unlock()
	if s.opts.BatchLimit > 0 {
		query.Set("limit", strconv.Itoa(s.opts.BatchLimit))
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var rows []observationRow
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("decode observation batch: %w", err)
	}

	batch := make([]model.PriceObservation, 0, len(rows))
	rejected := 0
	var watermark time.Time
	for _, row := range rows {
		obs, err := row.toObservation()
		if err == nil {
			err = model.ValidateObservation(obs)
		}
		if err != nil {
			rejected++
			s.logger.Warn().Err(err).
				Str("game_id", row.GameID).
				Str("store_id", row.StoreID).
				Msg("rejected observation at ingestion")
			continue
		}
		if obs.ObservedAt.After(watermark) {
			watermark = obs.ObservedAt
		}
		batch = append(batch, obs)
	}

	if !watermark.IsZero() {
		s.mu.Lock()
		if watermark.After(s.since) {
			s.since = watermark
		}
		s.mu.Unlock()
	}

	if rejected > 0 {
		s.logger.Info().Int("accepted", len(batch)).Int("rejected", rejected).Msg("observation batch validated")
	}
	return batch, nil
}

type observationRow struct {
	GameID        string `json:"gameId"`
	StoreID       string `json:"storeId"`
	Edition       string `json:"edition"`
	Region        string `json:"region"`
	Currency      string `json:"currency"`
	CurrentPrice  string `json:"currentPrice"`
	OriginalPrice string `json:"originalPrice"`
	IsAvailable   bool   `json:"isAvailable"`
	ObservedAt    string `json:"observedAt"`
}

func (r observationRow) toObservation() (model.PriceObservation, error) {
	current, err := decimal.NewFromString(r.CurrentPrice)
	if err != nil {
		return model.PriceObservation{}, &model.ObservationValidationError{Field: "currentPrice", Reason: "is not a decimal"}
	}

	original := decimal.Zero
	if r.OriginalPrice != "" {
		original, err = decimal.NewFromString(r.OriginalPrice)
		if err != nil {
			return model.PriceObservation{}, &model.ObservationValidationError{Field: "originalPrice", Reason: "is not a decimal"}
		}
	}

	observedAt, err := time.Parse(time.RFC3339, r.ObservedAt)
	if err != nil {
		return model.PriceObservation{}, &model.ObservationValidationError{Field: "observedAt", Reason: "is not an RFC3339 timestamp"}
	}

	return model.PriceObservation{
		GameID:        r.GameID,
		StoreID:       r.StoreID,
		Edition:       r.Edition,
		Region:        r.Region,
		Currency:      r.Currency,
		CurrentPrice:  current,
		OriginalPrice: original,
		IsAvailable:   r.IsAvailable,
		ObservedAt:    observedAt.UTC(),
	}, nil
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("pipeline error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("pipeline error (%d): %s", status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("pipeline error (%d): %s", status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("pipeline error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("pipeline error (%d)", status)
}

var _ Source = (*HTTPSource)(nil)
