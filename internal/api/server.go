// Package api exposes deal scores, price forecasts, and alert management over
// HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dealwatch/internal/alert"
	"dealwatch/internal/model"
	"dealwatch/internal/prediction"
	"dealwatch/internal/service"
)

// Service is the slice of the application the API surfaces.
type Service interface {
	GetScore(ctx context.Context, gameID, storeID, edition, region string) (service.ScoreResult, error)
	GetPrediction(ctx context.Context, gameID string) (prediction.Prediction, error)
	CreateAlert(ctx context.Context, userID, gameID string, targetPrice decimal.Decimal, channels []model.Channel) (alert.Alert, error)
	ListAlerts(userID string) []service.AlertView
	GetAlert(id string) (service.AlertView, error)
	PauseAlert(ctx context.Context, id string) error
	ResumeAlert(ctx context.Context, id string) error
	DeleteAlert(ctx context.Context, id string) error
}

// Options tune the HTTP surface.
type Options struct {
	CORSAllowOrigins []string
}

// NewRouter builds the chi router with middleware and all routes.
func NewRouter(svc Service, opts Options, logger zerolog.Logger) *chi.Mux {
	h := &handlers{svc: svc, logger: logger.With().Str("component", "api").Logger()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	c := corslib.New(corslib.Options{
		AllowedOrigins:   opts.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	r.Get("/health", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/games/{gameID}/score", h.getScore)
		r.Get("/games/{gameID}/prediction", h.getPrediction)

		r.Get("/users/{userID}/alerts", h.listAlerts)
		r.Post("/alerts", h.createAlert)
		r.Get("/alerts/{alertID}", h.getAlert)
		r.Post("/alerts/{alertID}/pause", h.pauseAlert)
		r.Post("/alerts/{alertID}/resume", h.resumeAlert)
		r.Delete("/alerts/{alertID}", h.deleteAlert)
	})

	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("request served")
		})
	}
}
