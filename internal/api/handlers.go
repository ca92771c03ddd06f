package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
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

type handlers struct {
	svc    Service
	logger zerolog.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type observationPayload struct {
	StoreID       string    `json:"storeId"`
	Edition       string    `json:"edition,omitempty"`
	Region        string    `json:"region"`
	Currency      string    `json:"currency"`
	CurrentPrice  string    `json:"currentPrice"`
	OriginalPrice string    `json:"originalPrice"`
	DiscountPct   string    `json:"discountPct"`
	Available     bool      `json:"available"`
	ObservedAt    time.Time `json:"observedAt"`
}

type scorePayload struct {
	GameID         string                         `json:"gameId"`
	Score          int                            `json:"score"`
	Tier           dealscore.Tier                 `json:"tier"`
	WeightsVersion string                         `json:"weightsVersion"`
	ComputedAt     time.Time                      `json:"computedAt"`
	Observation    observationPayload             `json:"observation"`
	Factors        []dealscore.FactorContribution `json:"factors"`
}

func (h *handlers) getScore(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	q := r.URL.Query()

	result, err := h.svc.GetScore(r.Context(), gameID, q.Get("store"), q.Get("edition"), q.Get("region"))
	if err != nil {
		h.mapError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, scorePayload{
		GameID:         result.GameID,
		Score:          result.Score,
		Tier:           result.Tier,
		WeightsVersion: result.WeightsVersion,
		ComputedAt:     result.ComputedAt,
		Observation:    toObservationPayload(result.Observation),
		Factors:        result.Contributions,
	})
}

func (h *handlers) getPrediction(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")

	pred, err := h.svc.GetPrediction(r.Context(), gameID)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

type alertPayload struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	GameID       string     `json:"gameId"`
	TargetPrice  string     `json:"targetPrice"`
	CurrentPrice string     `json:"currentPrice"`
	Channels     []string   `json:"channels"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	TriggeredAt  *time.Time `json:"triggeredAt,omitempty"`
	PriceGap     string     `json:"priceGap"`
	ProgressPct  float64    `json:"progressPct"`
}

type createAlertRequest struct {
	UserID      string   `json:"userId"`
	GameID      string   `json:"gameId"`
	TargetPrice string   `json:"targetPrice"`
	Channels    []string `json:"channels"`
}

func (h *handlers) createAlert(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}
	if req.UserID == "" {
		writeFieldError(w, http.StatusBadRequest, "missing_field", "userId is required", "userId")
		return
	}
	if req.GameID == "" {
		writeFieldError(w, http.StatusBadRequest, "missing_field", "gameId is required", "gameId")
		return
	}

	target, err := decimal.NewFromString(req.TargetPrice)
	if err != nil {
		writeFieldError(w, http.StatusBadRequest, "invalid_price", "targetPrice is not a valid decimal", "targetPrice")
		return
	}
	channels, err := model.ParseChannels(req.Channels)
	if err != nil {
		writeFieldError(w, http.StatusBadRequest, "invalid_channel", err.Error(), "channels")
		return
	}

	created, err := h.svc.CreateAlert(r.Context(), req.UserID, req.GameID, target, channels)
	if err != nil {
		h.mapError(w, err)
		return
	}

	gap, pct := alert.Progress(created)
	writeJSON(w, http.StatusCreated, toAlertPayload(service.AlertView{Alert: created, PriceGap: gap, ProgressPct: pct}))
}

func (h *handlers) listAlerts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	views := h.svc.ListAlerts(userID)
	payload := make([]alertPayload, 0, len(views))
	for _, v := range views {
		payload = append(payload, toAlertPayload(v))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": payload})
}

func (h *handlers) getAlert(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetAlert(chi.URLParam(r, "alertID"))
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAlertPayload(view))
}

func (h *handlers) pauseAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.PauseAlert(r.Context(), chi.URLParam(r, "alertID")); err != nil {
		h.mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) resumeAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResumeAlert(r.Context(), chi.URLParam(r, "alertID")); err != nil {
		h.mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) deleteAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteAlert(r.Context(), chi.URLParam(r, "alertID")); err != nil {
		h.mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// mapError translates domain errors into HTTP status codes. Unmatched errors
// become opaque 500s so internals never leak.
func (h *handlers) mapError(w http.ResponseWriter, err error) {
	var (
		editionErr      *catalog.UnknownEditionError
		targetErr       *alert.InvalidTargetPriceError
		transitionErr   *alert.InvalidTransitionError
		insufficientErr *prediction.InsufficientHistoryError
	)

	switch {
	case errors.Is(err, catalog.ErrUnknownGame):
		writeFieldError(w, http.StatusNotFound, "unknown_game", err.Error(), "gameId")
	case errors.As(err, &editionErr):
		writeFieldError(w, http.StatusBadRequest, "unknown_edition", err.Error(), "edition")
	case errors.Is(err, storage.ErrNoObservations):
		writeError(w, http.StatusNotFound, "no_observations", "no price data recorded for this game")
	case errors.Is(err, alert.ErrAlertNotFound):
		writeError(w, http.StatusNotFound, "alert_not_found", err.Error())
	case errors.As(err, &targetErr):
		writeFieldError(w, http.StatusBadRequest, "invalid_target_price", err.Error(), "targetPrice")
	case errors.Is(err, alert.ErrNoChannels):
		writeFieldError(w, http.StatusBadRequest, "missing_channels", err.Error(), "channels")
	case errors.As(err, &transitionErr):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.As(err, &insufficientErr):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_history", err.Error())
	default:
		h.logger.Error().Err(err).Msg("unhandled api error")
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func toObservationPayload(obs model.PriceObservation) observationPayload {
	return observationPayload{
		StoreID:       obs.StoreID,
		Edition:       obs.Edition,
		Region:        obs.Region,
		Currency:      obs.Currency,
		CurrentPrice:  obs.CurrentPrice.String(),
		OriginalPrice: obs.OriginalPrice.String(),
		DiscountPct:   obs.Discount().Mul(decimal.NewFromInt(100)).Round(1).String(),
		Available:     obs.IsAvailable,
		ObservedAt:    obs.ObservedAt,
	}
}

func toAlertPayload(v service.AlertView) alertPayload {
	channels := make([]string, 0, len(v.Alert.Channels))
	for _, ch := range v.Alert.Channels {
		channels = append(channels, string(ch))
	}
	return alertPayload{
		ID:           v.Alert.ID,
		UserID:       v.Alert.UserID,
		GameID:       v.Alert.GameID,
		TargetPrice:  v.Alert.TargetPrice.String(),
		CurrentPrice: v.Alert.CurrentPrice.String(),
		Channels:     channels,
		Status:       string(v.Alert.Status),
		CreatedAt:    v.Alert.CreatedAt,
		TriggeredAt:  v.Alert.TriggeredAt,
		PriceGap:     v.PriceGap.String(),
		ProgressPct:  v.ProgressPct,
	}
}
