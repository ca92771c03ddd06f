package alert

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dealwatch/internal/model"
)

// Journal persists registry state changes for audit and restart recovery.
// Journal failures never block a transition; they are logged and the
// in-memory state remains authoritative.
type Journal interface {
	SaveAlert(ctx context.Context, a Alert) error
	DeleteAlert(ctx context.Context, id string) error
}

// Registry owns all alert records. It is the sole mutation boundary:
// transitions are serialized per alert id, while distinct ids proceed fully
// in parallel.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	byGame  map[string]map[string]struct{}

	journal Journal
	logger  zerolog.Logger
}

type entry struct {
	mu    sync.Mutex
	alert Alert
}

// NewRegistry builds a registry. journal may be nil for memory-only mode.
func NewRegistry(journal Journal, logger zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		byGame:  make(map[string]map[string]struct{}),
		journal: journal,
		logger:  logger.With().Str("component", "alert_registry").Logger(),
	}
}

// Create registers a new alert in active status. The target must request an
// improvement: positive and strictly below the price at creation time.
func (r *Registry) Create(ctx context.Context, userID, gameID string, targetPrice decimal.Decimal, channels []model.Channel, currentPrice decimal.Decimal) (Alert, error) {
	if targetPrice.LessThanOrEqual(decimal.Zero) || targetPrice.GreaterThanOrEqual(currentPrice) {
		return Alert{}, &InvalidTargetPriceError{Target: targetPrice, Current: currentPrice}
	}
	if len(channels) == 0 {
		return Alert{}, ErrNoChannels
	}

	a := Alert{
		ID:           uuid.NewString(),
		UserID:       userID,
		GameID:       gameID,
		TargetPrice:  targetPrice,
		CurrentPrice: currentPrice,
		Channels:     append([]model.Channel(nil), channels...),
		Status:       StatusActive,
		CreatedAt:    time.Now().UTC(),
	}

	r.mu.Lock()
	r.entries[a.ID] = &entry{alert: a}
	r.indexLocked(a)
	r.mu.Unlock()

	r.persist(ctx, a)
	r.logger.Info().Str("alert_id", a.ID).Str("game_id", gameID).Str("target", targetPrice.String()).Msg("alert created")
	return a, nil
}

// Restore re-registers a previously journaled alert verbatim, keeping its id,
// status, and timestamps. Used at startup; not part of the public lifecycle.
func (r *Registry) Restore(a Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[a.ID] = &entry{alert: a}
	r.indexLocked(a)
}

// Pause moves an active alert to paused.
func (r *Registry) Pause(ctx context.Context, id string) error {
	return r.toggle(ctx, id, StatusActive, StatusPaused)
}

// Resume moves a paused alert back to active.
func (r *Registry) Resume(ctx context.Context, id string) error {
	return r.toggle(ctx, id, StatusPaused, StatusActive)
}

func (r *Registry) toggle(ctx context.Context, id string, from, to Status) error {
	e, ok := r.lookup(id)
	if !ok {
		return ErrAlertNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.alert.Status != from {
		return &InvalidTransitionError{AlertID: id, From: e.alert.Status, To: to}
	}
	e.alert.Status = to
	r.persist(ctx, e.alert)
	return nil
}

// Delete removes the record regardless of status. Deleting an unknown id is
// a no-op success so retries and double-clicks stay harmless.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
		if games, exists := r.byGame[e.alert.GameID]; exists {
			delete(games, id)
			if len(games) == 0 {
				delete(r.byGame, e.alert.GameID)
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if r.journal != nil {
		if err := r.journal.DeleteAlert(ctx, id); err != nil {
			r.logger.Error().Err(err).Str("alert_id", id).Msg("failed to journal alert deletion")
		}
	}
	return nil
}

// MarkTriggered transitions an alert to triggered and records the trigger
// time. It reports whether this call performed the transition; a repeat call
// on an already-triggered alert is a no-op returning false. That return value
// is the at-most-once gate for notification dispatch.
//
// A paused alert still triggers: the evaluator only calls MarkTriggered for
// alerts it saw active with the price condition met, so paused here means a
// manual pause raced in after the condition. The trigger wins and the
// notification is delivered.
func (r *Registry) MarkTriggered(ctx context.Context, id string, triggeredAt time.Time) (bool, error) {
	e, ok := r.lookup(id)
	if !ok {
		return false, ErrAlertNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.alert.Status {
	case StatusTriggered:
		return false, nil
	case StatusActive, StatusPaused:
		at := triggeredAt.UTC()
		e.alert.Status = StatusTriggered
		e.alert.TriggeredAt = &at
		r.persist(ctx, e.alert)
		return true, nil
	default:
		return false, &InvalidTransitionError{AlertID: id, From: e.alert.Status, To: StatusTriggered}
	}
}

// MarkExpired transitions an active or paused alert to expired. Already
// expired or triggered alerts are left untouched.
func (r *Registry) MarkExpired(ctx context.Context, id string) (bool, error) {
	e, ok := r.lookup(id)
	if !ok {
		return false, ErrAlertNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.alert.Status {
	case StatusActive, StatusPaused:
		e.alert.Status = StatusExpired
		r.persist(ctx, e.alert)
		return true, nil
	default:
		return false, nil
	}
}

// ObservePrice refreshes the cached display price on a live alert. Terminal
// alerts keep the price they triggered or expired at.
func (r *Registry) ObservePrice(ctx context.Context, id string, price decimal.Decimal) error {
	e, ok := r.lookup(id)
	if !ok {
		return ErrAlertNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.alert.Status != StatusActive && e.alert.Status != StatusPaused {
		return nil
	}
	e.alert.CurrentPrice = price
	r.persist(ctx, e.alert)
	return nil
}

// Get returns a snapshot of one alert.
func (r *Registry) Get(id string) (Alert, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return Alert{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alert, true
}

// ListByUser returns snapshots of all alerts owned by a user.
func (r *Registry) ListByUser(userID string) []Alert {
	r.mu.RLock()
	entries := make([]*entry, 0)
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	alerts := make([]Alert, 0)
	for _, e := range entries {
		e.mu.Lock()
		if e.alert.UserID == userID {
			alerts = append(alerts, e.alert)
		}
		e.mu.Unlock()
	}
	return alerts
}

// ActiveByGame returns snapshots of the active alerts watching a game.
func (r *Registry) ActiveByGame(gameID string) []Alert {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byGame[gameID]))
	for id := range r.byGame[gameID] {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	alerts := make([]Alert, 0, len(ids))
	for _, id := range ids {
		e, ok := r.lookup(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		if e.alert.Status == StatusActive {
			alerts = append(alerts, e.alert)
		}
		e.mu.Unlock()
	}
	return alerts
}

// Sweepable returns live alerts created before the cutoff, candidates for the
// expiry sweep.
func (r *Registry) Sweepable(cutoff time.Time) []Alert {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	alerts := make([]Alert, 0)
	for _, e := range entries {
		e.mu.Lock()
		if (e.alert.Status == StatusActive || e.alert.Status == StatusPaused) && e.alert.CreatedAt.Before(cutoff) {
			alerts = append(alerts, e.alert)
		}
		e.mu.Unlock()
	}
	return alerts
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *Registry) indexLocked(a Alert) {
	games, ok := r.byGame[a.GameID]
	if !ok {
		games = make(map[string]struct{})
		r.byGame[a.GameID] = games
	}
	games[a.ID] = struct{}{}
}

func (r *Registry) persist(ctx context.Context, a Alert) {
	if r.journal == nil {
		return
	}
	if err := r.journal.SaveAlert(ctx, a); err != nil {
		r.logger.Error().Err(err).Str("alert_id", a.ID).Msg("failed to journal alert state")
	}
}
