package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"dealwatch/internal/alert"
	"dealwatch/internal/api"
	"dealwatch/internal/catalog"
	"dealwatch/internal/config"
	"dealwatch/internal/dealscore"
	"dealwatch/internal/dispatch"
	"dealwatch/internal/ingest"
	"dealwatch/internal/prediction"
	"dealwatch/internal/scheduler"
	"dealwatch/internal/service"
	"dealwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSource() ingest.Source {
	return ingest.NewHTTPSource(ingest.HTTPSourceOptions{
		BaseURL:    a.Config.Ingest.BaseURL,
		Timeout:    a.Config.Ingest.RequestTimeout,
		UserAgent:  a.Config.Ingest.UserAgent,
		BatchLimit: a.Config.Ingest.BatchLimit,
	}, a.Logger)
}

func (a *App) newCatalog() catalog.Registry {
	if a.Config.Catalog.BaseURL == "" {
		return nil
	}
	return catalog.NewHTTPRegistry(catalog.Options{
		BaseURL: a.Config.Catalog.BaseURL,
		Timeout: a.Config.Catalog.RequestTimeout,
	}, a.Logger)
}

func (a *App) newDispatcher() alert.Dispatcher {
	if a.Config.Dispatch.BaseURL == "" {
		return dispatch.NewLogDispatcher(a.Logger)
	}
	return dispatch.NewHTTPDispatcher(dispatch.Options{
		BaseURL:   a.Config.Dispatch.BaseURL,
		AuthToken: a.Config.Dispatch.AuthToken,
		Timeout:   a.Config.Dispatch.RequestTimeout,
	}, a.Logger)
}

func (a *App) newEngines() (*dealscore.Engine, *prediction.Engine, error) {
	scores, err := dealscore.NewEngine(dealscore.DefaultWeights)
	if err != nil {
		return nil, nil, err
	}

	policy := prediction.DefaultPolicy
	if a.Config.Prediction.MinObservations > 0 {
		policy.MinObservations = a.Config.Prediction.MinObservations
	}
	if a.Config.Prediction.MinSpan > 0 {
		policy.MinSpan = a.Config.Prediction.MinSpan
	}
	predictor, err := prediction.NewEngine(policy)
	if err != nil {
		return nil, nil, err
	}
	return scores, predictor, nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newRegistry builds the alert registry, rebuilding journaled alerts when a
// store is available.
func (a *App) newRegistry(ctx context.Context, store *storage.Store) (*alert.Registry, error) {
	var journal alert.Journal
	if store != nil {
		journal = store
	}
	registry := alert.NewRegistry(journal, a.Logger)

	if store != nil {
		alerts, err := store.LoadAlerts(ctx)
		if err != nil {
			return nil, err
		}
		for _, existing := range alerts {
			registry.Restore(existing)
		}
		if len(alerts) > 0 {
			a.Logger.Info().Int("count", len(alerts)).Msg("alerts restored from journal")
		}
	}
	return registry, nil
}

func (a *App) evaluatorOptions() alert.EvaluatorOptions {
	return alert.EvaluatorOptions{
		Workers:       a.Config.Dispatch.Workers,
		QueueSize:     a.Config.Dispatch.QueueSize,
		EnqueueWait:   a.Config.Dispatch.EnqueueWait,
		DispatchRate:  a.Config.Dispatch.RatePerSecond,
		DispatchBurst: a.Config.Dispatch.Burst,
		MaxAge:        a.Config.Alerts.MaxAge,
	}
}

// Run executes the long-running deal intelligence service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	registry, err := a.newRegistry(ctx, store)
	if err != nil {
		return err
	}

	evaluator := alert.NewEvaluator(registry, a.newDispatcher(), a.evaluatorOptions(), a.Logger)
	evaluator.Start(ctx)
	defer evaluator.Close()

	scores, predictor, err := a.newEngines()
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Name:         "batch_scheduler",
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	sweeper := scheduler.New(scheduler.Options{
		Name:         "sweep_scheduler",
		Interval:     a.Config.Scheduler.SweepInterval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	var obsStore storage.ObservationStore
	if store != nil {
		obsStore = store
	}

	svc := service.New(a.Config, service.Deps{
		Scheduler: sched,
		Sweeper:   sweeper,
		Source:    a.newSource(),
		Store:     obsStore,
		Catalog:   a.newCatalog(),
		Registry:  registry,
		Evaluator: evaluator,
		Scores:    scores,
		Predictor: predictor,
	}, a.Logger)

	errCh := make(chan error, 3)
	go func() { errCh <- svc.RunSweep(ctx) }()
	if a.Config.API.Enabled {
		go func() { errCh <- a.serveAPI(ctx, svc) }()
	}
	go func() { errCh <- svc.Run(ctx) }()

	a.Logger.Info().Msg("starting deal intelligence service")
	err = <-errCh
	cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("deal intelligence service stopped")
	return nil
}

func (a *App) serveAPI(ctx context.Context, svc *service.Service) error {
	router := api.NewRouter(svc, api.Options{
		CORSAllowOrigins: a.Config.API.CORSAllowOrigins,
	}, a.Logger)

	server := &http.Server{
		Addr:              a.Config.API.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error().Err(err).Msg("api shutdown error")
		}
	}()

	a.Logger.Info().Str("addr", a.Config.API.ListenAddr).Msg("api listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

// ExportOptions hold parameters for exporting a game's price history.
type ExportOptions struct {
	GameID    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SimulateOptions configure the alert simulation command.
type SimulateOptions struct {
	GameID      string
	UserID      string
	TargetPrice string
	Price       string
	Channels    []string
}
