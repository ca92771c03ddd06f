package alert

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"dealwatch/internal/model"
)

// Delivery is the payload handed to the notification dispatcher for one
// trigger event.
type Delivery struct {
	AlertID        string          `json:"alertId"`
	UserID         string          `json:"userId"`
	Channels       []model.Channel `json:"channels"`
	GameID         string          `json:"gameId"`
	TriggeredPrice string          `json:"triggeredPrice"`
	TargetPrice    string          `json:"targetPrice"`
	TriggeredAt    time.Time       `json:"triggeredAt"`
}

// Dispatcher delivers a triggered alert to its channels. Per-channel retry
// and delivery de-duplication are the dispatcher's concern; the evaluator
// guarantees at most one Dispatch call per successful trigger transition.
type Dispatcher interface {
	Dispatch(ctx context.Context, d Delivery) error
}

// EvaluatorOptions tune batch evaluation and the dispatch hand-off.
type EvaluatorOptions struct {
	// Workers bounds concurrent per-game evaluation inside a batch.
	Workers int
	// QueueSize is the buffered dispatch queue length.
	QueueSize int
	// DispatchRate throttles outbound dispatcher calls per second.
	DispatchRate float64
	// DispatchBurst is the limiter burst allowance.
	DispatchBurst int
	// EnqueueWait bounds how long evaluation waits on a full dispatch queue
	// before dropping the delivery and counting it as a failure.
	EnqueueWait time.Duration
	// MaxAge moves alerts that never triggered to expired.
	MaxAge time.Duration
}

func (o EvaluatorOptions) withDefaults() EvaluatorOptions {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.DispatchRate <= 0 {
		o.DispatchRate = 20
	}
	if o.DispatchBurst <= 0 {
		o.DispatchBurst = 10
	}
	if o.EnqueueWait <= 0 {
		o.EnqueueWait = 2 * time.Second
	}
	if o.MaxAge <= 0 {
		o.MaxAge = 90 * 24 * time.Hour
	}
	return o
}

// Evaluator matches observation batches against active alerts. Dispatch is
// asynchronous: a successful trigger enqueues the delivery and evaluation
// moves on without waiting for the notification channel.
type Evaluator struct {
	registry   *Registry
	dispatcher Dispatcher
	opts       EvaluatorOptions
	limiter    *rate.Limiter
	queue      chan Delivery
	logger     zerolog.Logger

	workerWG  sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once

	dispatched       atomic.Int64
	deliveryFailures atomic.Int64
}

// NewEvaluator wires an evaluator to the registry and dispatcher.
func NewEvaluator(registry *Registry, dispatcher Dispatcher, opts EvaluatorOptions, logger zerolog.Logger) *Evaluator {
	opts = opts.withDefaults()
	return &Evaluator{
		registry:   registry,
		dispatcher: dispatcher,
		opts:       opts,
		limiter:    rate.NewLimiter(rate.Limit(opts.DispatchRate), opts.DispatchBurst),
		queue:      make(chan Delivery, opts.QueueSize),
		logger:     logger.With().Str("component", "alert_evaluator").Logger(),
	}
}

// Start launches the dispatch worker. Safe to call once before Evaluate.
func (e *Evaluator) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		e.workerWG.Add(1)
		go e.dispatchLoop(ctx)
	})
}

// Close stops accepting deliveries and waits for the queue to drain.
func (e *Evaluator) Close() {
	e.closeOnce.Do(func() {
		close(e.queue)
	})
	e.workerWG.Wait()
}

// Evaluate runs one observation batch against the registry. Games are
// processed concurrently; per-alert ordering is enforced by the registry's
// id-level serialization. Transitions already committed survive a timeout.
func (e *Evaluator) Evaluate(ctx context.Context, batch []model.PriceObservation) error {
	byGame := make(map[string][]model.PriceObservation)
	for _, obs := range batch {
		byGame[obs.GameID] = append(byGame[obs.GameID], obs)
	}

	games := make(chan []model.PriceObservation)
	var wg sync.WaitGroup
	workers := e.opts.Workers
	if workers > len(byGame) {
		workers = len(byGame)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for observations := range games {
				for _, obs := range observations {
					e.evaluateObservation(ctx, obs)
				}
			}
		}()
	}

	var err error
feed:
	for _, observations := range byGame {
		select {
		case games <- observations:
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		}
	}
	close(games)
	wg.Wait()
	return err
}

func (e *Evaluator) evaluateObservation(ctx context.Context, obs model.PriceObservation) {
	for _, a := range e.registry.ActiveByGame(obs.GameID) {
		if err := e.registry.ObservePrice(ctx, a.ID, obs.CurrentPrice); err != nil {
			continue
		}

		if !obs.IsAvailable || obs.CurrentPrice.GreaterThan(a.TargetPrice) {
			continue
		}

		// Mark first, notify after: re-delivered batches and concurrent
		// evaluations then collapse to a single dispatch.
		transitioned, err := e.registry.MarkTriggered(ctx, a.ID, obs.ObservedAt)
		if err != nil || !transitioned {
			continue
		}

		e.logger.Info().
			Str("alert_id", a.ID).
			Str("game_id", obs.GameID).
			Str("price", obs.CurrentPrice.String()).
			Str("target", a.TargetPrice.String()).
			Msg("alert triggered")

		e.enqueue(ctx, Delivery{
			AlertID:        a.ID,
			UserID:         a.UserID,
			Channels:       a.Channels,
			GameID:         a.GameID,
			TriggeredPrice: obs.CurrentPrice.String(),
			TargetPrice:    a.TargetPrice.String(),
			TriggeredAt:    obs.ObservedAt.UTC(),
		})
	}
}

// enqueue hands a delivery to the dispatch loop. The wait on a full queue is
// bounded so a slow notification channel never stalls evaluation of the next
// observation; a dropped delivery counts as a failure and the alert stays
// triggered.
func (e *Evaluator) enqueue(ctx context.Context, d Delivery) {
	select {
	case e.queue <- d:
		return
	default:
	}

	timer := time.NewTimer(e.opts.EnqueueWait)
	defer timer.Stop()
	select {
	case e.queue <- d:
	case <-timer.C:
		e.deliveryFailures.Add(1)
		e.logger.Error().Str("alert_id", d.AlertID).Msg("dispatch queue full; delivery dropped, alert stays triggered")
	case <-ctx.Done():
		e.deliveryFailures.Add(1)
		e.logger.Error().Str("alert_id", d.AlertID).Msg("dispatch queue hand-off abandoned; alert stays triggered")
	}
}

func (e *Evaluator) dispatchLoop(ctx context.Context) {
	defer e.workerWG.Done()
	for d := range e.queue {
		if err := e.limiter.Wait(ctx); err != nil && ctx.Err() != nil {
			// Shutting down; deliver remaining queue entries best effort
			// without throttling.
			ctx = context.Background()
		}

		if err := e.dispatcher.Dispatch(ctx, d); err != nil {
			// The trigger is a statement about the price condition; a failed
			// delivery never rolls it back.
			e.deliveryFailures.Add(1)
			e.logger.Error().Err(err).Str("alert_id", d.AlertID).Msg("notification dispatch failed")
			continue
		}
		e.dispatched.Add(1)
	}
}

// SweepExpired expires live alerts older than the configured max age. It is
// a scheduled pass, deliberately decoupled from observation cadence.
func (e *Evaluator) SweepExpired(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-e.opts.MaxAge)
	expired := 0
	for _, a := range e.registry.Sweepable(cutoff) {
		done, err := e.registry.MarkExpired(ctx, a.ID)
		if err != nil {
			continue
		}
		if done {
			expired++
		}
	}
	if expired > 0 {
		e.logger.Info().Int("count", expired).Msg("alerts expired by sweep")
	}
	return expired
}

// Dispatched reports successful dispatcher hand-offs.
func (e *Evaluator) Dispatched() int64 {
	return e.dispatched.Load()
}

// DeliveryFailures reports dispatch attempts that failed. Failures are left
// to the dispatcher's retry policy; they are surfaced here for observability.
func (e *Evaluator) DeliveryFailures() int64 {
	return e.deliveryFailures.Load()
}
