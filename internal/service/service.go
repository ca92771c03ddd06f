package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dealwatch/internal/alert"
	"dealwatch/internal/catalog"
	"dealwatch/internal/config"
	"dealwatch/internal/dealscore"
	"dealwatch/internal/ingest"
	"dealwatch/internal/model"
	"dealwatch/internal/prediction"
	"dealwatch/internal/scheduler"
	"dealwatch/internal/storage"
)

// ScoreResult bundles a computed deal score with its explanation.
type ScoreResult struct {
	GameID         string
	Observation    model.PriceObservation
	Score          int
	Tier           dealscore.Tier
	Breakdown      dealscore.Breakdown
	Contributions  []dealscore.FactorContribution
	WeightsVersion string
	ComputedAt     time.Time
}

// AlertView is an alert snapshot enriched with derived progress.
type AlertView struct {
	Alert       alert.Alert
	PriceGap    decimal.Decimal
	ProgressPct float64
}

// Deps collects the service collaborators.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Sweeper   *scheduler.Scheduler
	Source    ingest.Source
	Store     storage.ObservationStore
	Catalog   catalog.Registry
	Registry  *alert.Registry
	Evaluator *alert.Evaluator
	Scores    *dealscore.Engine
	Predictor *prediction.Engine
}

// Service orchestrates ingestion, scoring, prediction, and alert evaluation.
type Service struct {
	scheduler *scheduler.Scheduler
	sweeper   *scheduler.Scheduler
	source    ingest.Source
	store     storage.ObservationStore
	catalog   catalog.Registry
	registry  *alert.Registry
	evaluator *alert.Evaluator
	scores    *dealscore.Engine
	predictor *prediction.Engine
	logger    zerolog.Logger

	homeRegion    string
	historyWindow time.Duration
	cfg           *config.Config
	locker        storage.AdvisoryLocker
	lockKey       int64
}

// New constructs the deal intelligence service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := deps.Store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:     deps.Scheduler,
		sweeper:       deps.Sweeper,
		source:        deps.Source,
		store:         deps.Store,
		catalog:       deps.Catalog,
		registry:      deps.Registry,
		evaluator:     deps.Evaluator,
		scores:        deps.Scores,
		predictor:     deps.Predictor,
		logger:        logger.With().Str("component", "service").Logger(),
		homeRegion:    cfg.Scoring.HomeRegion,
		historyWindow: cfg.Scoring.HistoryWindow,
		cfg:           cfg,
		locker:        locker,
		lockKey:       cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned ingestion and evaluation loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBatch)
}

// RunSweep begins the alert expiry sweep loop.
func (s *Service) RunSweep(ctx context.Context) error {
	if s.sweeper == nil {
		return fmt.Errorf("sweeper not configured")
	}
	return s.sweeper.Run(ctx, s.ProcessSweep)
}

// ProcessBatch pulls one observation batch, persists it, and evaluates alerts.
func (s *Service) ProcessBatch(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeBatch(ctx, bucket)
}

func (s *Service) executeBatch(ctx context.Context, bucket time.Time) error {
	if s.source == nil {
		return fmt.Errorf("ingest source not configured")
	}

	batch, err := s.source.FetchBatch(ctx)
	if err != nil {
		return fmt.Errorf("fetch observations: %w", err)
	}
	if len(batch) == 0 {
		s.logger.Debug().Time("bucket", bucket).Msg("empty observation batch")
		return nil
	}

	stored := 0
	if s.store != nil {
		for _, obs := range batch {
			if err := s.store.InsertObservation(ctx, obs); err != nil {
				s.logger.Error().Err(err).Str("game_id", obs.GameID).Msg("failed to persist observation")
				continue
			}
			stored++
		}
	}

	s.logger.Info().Time("bucket", bucket).
		Int("received", len(batch)).
		Int("stored", stored).
		Msg("observation batch recorded")

	if s.evaluator != nil {
		if err := s.evaluator.Evaluate(ctx, batch); err != nil {
			return fmt.Errorf("evaluate alerts: %w", err)
		}
	}
	return nil
}

// ProcessSweep expires alerts past their maximum age.
func (s *Service) ProcessSweep(ctx context.Context, bucket time.Time) error {
	if s.evaluator == nil {
		return nil
	}
	s.evaluator.SweepExpired(ctx, bucket)
	return nil
}

// GetScore computes the deal score for a game's freshest observation.
// Empty storeID or edition matches any store or edition; an empty region
// falls back to the configured home region.
func (s *Service) GetScore(ctx context.Context, gameID, storeID, edition, region string) (ScoreResult, error) {
	if s.store == nil {
		return ScoreResult{}, storage.ErrNotConfigured
	}

	game, err := s.lookupGame(ctx, gameID)
	if err != nil {
		return ScoreResult{}, err
	}
	if edition != "" && !game.HasEdition(edition) {
		return ScoreResult{}, &catalog.UnknownEditionError{GameID: gameID, Edition: edition}
	}

	obs, err := s.store.LatestObservation(ctx, gameID, storeID, edition)
	if err != nil {
		return ScoreResult{}, err
	}

	history, err := s.store.ListHistory(ctx, gameID, obs.ObservedAt.Add(-s.historyWindow))
	if err != nil {
		return ScoreResult{}, fmt.Errorf("load history: %w", err)
	}

	allTimeLow, err := s.store.AllTimeLow(ctx, gameID)
	if err != nil {
		if !errors.Is(err, storage.ErrNoObservations) {
			return ScoreResult{}, fmt.Errorf("load all-time low: %w", err)
		}
		allTimeLow = decimal.Zero
	}

	inputs := dealscore.FactorInputs{
		Observation:     obs,
		History:         history,
		AllTimeLow:      allTimeLow,
		StoreTrust:      s.cfg.StoreTrustFor(obs.StoreID),
		RegionMatch:     s.regionMatches(region, obs.Region),
		EditionValue:    s.cfg.EditionValueFor(obs.Edition),
		DropProbability: s.shortHorizonDropProbability(history, obs),
	}

	breakdown := dealscore.DeriveBreakdown(inputs)
	score, tier, err := s.scores.Compute(breakdown)
	if err != nil {
		return ScoreResult{}, err
	}
	contributions, err := s.scores.Explain(breakdown)
	if err != nil {
		return ScoreResult{}, err
	}

	return ScoreResult{
		GameID:         gameID,
		Observation:    obs,
		Score:          score,
		Tier:           tier,
		Breakdown:      breakdown,
		Contributions:  contributions,
		WeightsVersion: s.scores.Weights().Version,
		ComputedAt:     time.Now().UTC(),
	}, nil
}

// shortHorizonDropProbability feeds the score's prediction factor. A forecast
// is optional here; without one the factor sits at its neutral midpoint.
func (s *Service) shortHorizonDropProbability(history []model.PriceObservation, obs model.PriceObservation) float64 {
	if s.predictor == nil {
		return -1
	}
	pred, err := s.predictor.Predict(history, obs.CurrentPrice, obs.ObservedAt)
	if err != nil {
		return -1
	}
	for _, h := range pred.Horizons {
		if h.Days == 7 {
			return h.DropProbability
		}
	}
	return -1
}

// GetPrediction builds the full forecast bundle for a game.
func (s *Service) GetPrediction(ctx context.Context, gameID string) (prediction.Prediction, error) {
	if s.store == nil {
		return prediction.Prediction{}, storage.ErrNotConfigured
	}
	if _, err := s.lookupGame(ctx, gameID); err != nil {
		return prediction.Prediction{}, err
	}

	obs, err := s.store.LatestObservation(ctx, gameID, "", "")
	if err != nil {
		return prediction.Prediction{}, err
	}

	history, err := s.store.ListHistory(ctx, gameID, time.Time{})
	if err != nil {
		return prediction.Prediction{}, fmt.Errorf("load history: %w", err)
	}

	return s.predictor.Predict(history, obs.CurrentPrice, time.Now().UTC())
}

// CreateAlert registers a price alert anchored at the game's current price.
func (s *Service) CreateAlert(ctx context.Context, userID, gameID string, targetPrice decimal.Decimal, channels []model.Channel) (alert.Alert, error) {
	if s.store == nil {
		return alert.Alert{}, storage.ErrNotConfigured
	}
	if _, err := s.lookupGame(ctx, gameID); err != nil {
		return alert.Alert{}, err
	}

	obs, err := s.store.LatestObservation(ctx, gameID, "", "")
	if err != nil {
		return alert.Alert{}, fmt.Errorf("resolve current price: %w", err)
	}

	return s.registry.Create(ctx, userID, gameID, targetPrice, channels, obs.CurrentPrice)
}

// ListAlerts returns a user's alerts with derived progress.
func (s *Service) ListAlerts(userID string) []AlertView {
	alerts := s.registry.ListByUser(userID)
	views := make([]AlertView, 0, len(alerts))
	for _, a := range alerts {
		gap, pct := alert.Progress(a)
		views = append(views, AlertView{Alert: a, PriceGap: gap, ProgressPct: pct})
	}
	return views
}

// GetAlert returns one alert with derived progress.
func (s *Service) GetAlert(id string) (AlertView, error) {
	a, ok := s.registry.Get(id)
	if !ok {
		return AlertView{}, alert.ErrAlertNotFound
	}
	gap, pct := alert.Progress(a)
	return AlertView{Alert: a, PriceGap: gap, ProgressPct: pct}, nil
}

// PauseAlert suspends evaluation for an alert.
func (s *Service) PauseAlert(ctx context.Context, id string) error {
	return s.registry.Pause(ctx, id)
}

// ResumeAlert re-enables evaluation for a paused alert.
func (s *Service) ResumeAlert(ctx context.Context, id string) error {
	return s.registry.Resume(ctx, id)
}

// DeleteAlert removes an alert. Unknown ids succeed.
func (s *Service) DeleteAlert(ctx context.Context, id string) error {
	return s.registry.Delete(ctx, id)
}

func (s *Service) lookupGame(ctx context.Context, gameID string) (catalog.Game, error) {
	if s.catalog == nil {
		return catalog.Game{ID: gameID}, nil
	}
	return s.catalog.Lookup(ctx, gameID)
}

func (s *Service) regionMatches(requested, observed string) bool {
	if requested == "" {
		requested = s.homeRegion
	}
	if requested == "" || observed == "" {
		return true
	}
	return strings.EqualFold(requested, observed)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
