package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dealwatch/internal/alert"
	"dealwatch/internal/catalog"
	"dealwatch/internal/dealscore"
	"dealwatch/internal/model"
	"dealwatch/internal/prediction"
	"dealwatch/internal/service"
	"dealwatch/internal/storage"
)

type stubService struct {
	score      service.ScoreResult
	scoreErr   error
	pred       prediction.Prediction
	predErr    error
	created    alert.Alert
	createErr  error
	views      []service.AlertView
	pauseErr   error
	resumeErr  error
	deleteErr  error
	getViewErr error

	lastGameID  string
	lastStore   string
	lastEdition string
	lastRegion  string
}

func (s *stubService) GetScore(_ context.Context, gameID, storeID, edition, region string) (service.ScoreResult, error) {
	s.lastGameID, s.lastStore, s.lastEdition, s.lastRegion = gameID, storeID, edition, region
	return s.score, s.scoreErr
}

func (s *stubService) GetPrediction(_ context.Context, gameID string) (prediction.Prediction, error) {
	s.lastGameID = gameID
	return s.pred, s.predErr
}

func (s *stubService) CreateAlert(_ context.Context, _, _ string, _ decimal.Decimal, _ []model.Channel) (alert.Alert, error) {
	return s.created, s.createErr
}

func (s *stubService) ListAlerts(string) []service.AlertView { return s.views }

func (s *stubService) GetAlert(string) (service.AlertView, error) {
	if s.getViewErr != nil {
		return service.AlertView{}, s.getViewErr
	}
	if len(s.views) == 0 {
		return service.AlertView{}, alert.ErrAlertNotFound
	}
	return s.views[0], nil
}

func (s *stubService) PauseAlert(context.Context, string) error  { return s.pauseErr }
func (s *stubService) ResumeAlert(context.Context, string) error { return s.resumeErr }
func (s *stubService) DeleteAlert(context.Context, string) error { return s.deleteErr }

func newTestServer(t *testing.T, svc Service) *httptest.Server {
	t.Helper()
	router := NewRouter(svc, Options{CORSAllowOrigins: []string{"*"}}, zerolog.Nop())
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestGetScoreRoute(t *testing.T) {
	stub := &stubService{
		score: service.ScoreResult{
			GameID:         "g1",
			Score:          83,
			Tier:           dealscore.TierExcellent,
			WeightsVersion: "2024-10",
			ComputedAt:     time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
			Observation: model.PriceObservation{
				GameID:        "g1",
				StoreID:       "store-1",
				Region:        "US",
				Currency:      "USD",
				CurrentPrice:  decimal.RequireFromString("29.99"),
				OriginalPrice: decimal.RequireFromString("59.99"),
				IsAvailable:   true,
			},
			Contributions: []dealscore.FactorContribution{
				{Factor: dealscore.FactorHistoricalLow, Weight: 25, SubScore: 82, WeightedContribution: 21},
			},
		},
	}
	server := newTestServer(t, stub)

	resp, err := http.Get(server.URL + "/api/v1/games/g1/score?store=store-1&edition=deluxe&region=EU")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload scorePayload
	decodeBody(t, resp, &payload)
	if payload.Score != 83 || payload.Tier != dealscore.TierExcellent {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Observation.DiscountPct != "50" {
		t.Fatalf("expected 50%% discount, got %s", payload.Observation.DiscountPct)
	}
	if stub.lastStore != "store-1" || stub.lastEdition != "deluxe" || stub.lastRegion != "EU" {
		t.Fatalf("query filters not forwarded: %+v", stub)
	}
}

func TestGetScoreUnknownGameIs404(t *testing.T) {
	stub := &stubService{scoreErr: catalog.ErrUnknownGame}
	server := newTestServer(t, stub)

	resp, err := http.Get(server.URL + "/api/v1/games/missing/score")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var body ErrorResponse
	decodeBody(t, resp, &body)
	if body.Error.Code != "unknown_game" {
		t.Fatalf("unexpected error code %q", body.Error.Code)
	}
}

func TestGetPredictionInsufficientHistoryIs422(t *testing.T) {
	stub := &stubService{predErr: &prediction.InsufficientHistoryError{Have: 2, Need: 3, Span: 48 * time.Hour, MinSpan: 14 * 24 * time.Hour}}
	server := newTestServer(t, stub)

	resp, err := http.Get(server.URL + "/api/v1/games/g1/prediction")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	var body ErrorResponse
	decodeBody(t, resp, &body)
	if body.Error.Code != "insufficient_history" {
		t.Fatalf("unexpected error code %q", body.Error.Code)
	}
}

func TestGetPredictionNoDataIs404(t *testing.T) {
	stub := &stubService{predErr: storage.ErrNoObservations}
	server := newTestServer(t, stub)

	resp, err := http.Get(server.URL + "/api/v1/games/g1/prediction")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCreateAlertRoute(t *testing.T) {
	created := alert.Alert{
		ID:           "a1",
		UserID:       "u1",
		GameID:       "g1",
		TargetPrice:  decimal.RequireFromString("25.00"),
		CurrentPrice: decimal.RequireFromString("35.99"),
		Channels:     []model.Channel{model.ChannelEmail},
		Status:       alert.StatusActive,
		CreatedAt:    time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	stub := &stubService{created: created}
	server := newTestServer(t, stub)

	body := bytes.NewBufferString(`{"userId":"u1","gameId":"g1","targetPrice":"25.00","channels":["email"]}`)
	resp, err := http.Post(server.URL+"/api/v1/alerts", "application/json", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var payload alertPayload
	decodeBody(t, resp, &payload)
	if payload.ID != "a1" || payload.Status != "active" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.PriceGap != "10.99" {
		t.Fatalf("expected derived gap 10.99, got %s", payload.PriceGap)
	}
}

func TestCreateAlertValidation(t *testing.T) {
	server := newTestServer(t, &stubService{})

	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"missing user", `{"gameId":"g1","targetPrice":"25","channels":["email"]}`, "userId"},
		{"missing game", `{"userId":"u1","targetPrice":"25","channels":["email"]}`, "gameId"},
		{"bad price", `{"userId":"u1","gameId":"g1","targetPrice":"abc","channels":["email"]}`, "targetPrice"},
		{"bad channel", `{"userId":"u1","gameId":"g1","targetPrice":"25","channels":["fax"]}`, "channels"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(server.URL+"/api/v1/alerts", "application/json", bytes.NewBufferString(tc.body))
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
			var body ErrorResponse
			decodeBody(t, resp, &body)
			if body.Error.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, body.Error.Field)
			}
		})
	}
}

func TestCreateAlertTargetAboveCurrentIs400(t *testing.T) {
	stub := &stubService{createErr: &alert.InvalidTargetPriceError{
		Target:  decimal.RequireFromString("45.00"),
		Current: decimal.RequireFromString("39.99"),
	}}
	server := newTestServer(t, stub)

	body := bytes.NewBufferString(`{"userId":"u1","gameId":"g1","targetPrice":"45.00","channels":["email"]}`)
	resp, err := http.Post(server.URL+"/api/v1/alerts", "application/json", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var respBody ErrorResponse
	decodeBody(t, resp, &respBody)
	if respBody.Error.Field != "targetPrice" {
		t.Fatalf("expected targetPrice field, got %q", respBody.Error.Field)
	}
}

func TestPauseConflictIs409(t *testing.T) {
	stub := &stubService{pauseErr: &alert.InvalidTransitionError{AlertID: "a1", From: alert.StatusTriggered, To: alert.StatusPaused}}
	server := newTestServer(t, stub)

	resp, err := http.Post(server.URL+"/api/v1/alerts/a1/pause", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestDeleteUnknownAlertIs204(t *testing.T) {
	server := newTestServer(t, &stubService{})

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/api/v1/alerts/unknown", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func TestListAlertsRoute(t *testing.T) {
	view := service.AlertView{
		Alert: alert.Alert{
			ID:           "a1",
			UserID:       "u1",
			GameID:       "g1",
			TargetPrice:  decimal.RequireFromString("25.00"),
			CurrentPrice: decimal.RequireFromString("35.99"),
			Channels:     []model.Channel{model.ChannelEmail, model.ChannelPush},
			Status:       alert.StatusActive,
			CreatedAt:    time.Now().UTC(),
		},
		PriceGap:    decimal.RequireFromString("10.99"),
		ProgressPct: 69.5,
	}
	server := newTestServer(t, &stubService{views: []service.AlertView{view}})

	resp, err := http.Get(server.URL + "/api/v1/users/u1/alerts")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Alerts []alertPayload `json:"alerts"`
	}
	decodeBody(t, resp, &body)
	if len(body.Alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(body.Alerts))
	}
	if body.Alerts[0].ProgressPct != 69.5 {
		t.Fatalf("expected progress 69.5, got %.1f", body.Alerts[0].ProgressPct)
	}
	if len(body.Alerts[0].Channels) != 2 {
		t.Fatalf("expected two channels, got %v", body.Alerts[0].Channels)
	}
}

func TestHealthRoute(t *testing.T) {
	server := newTestServer(t, &stubService{})

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
