package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"dealwatch/internal/alert"
	"dealwatch/internal/model"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNoObservations indicates no price data exists for the query.
	ErrNoObservations = errors.New("storage: no observations")
)

const (
	insertObservationSQL = `INSERT INTO price_observations (
        game_id,
        store_id,
        edition,
        region,
        currency,
        current_price,
        original_price,
        available,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (game_id, store_id, edition, region, observed_at) DO NOTHING;`

	listHistorySQL = `SELECT
        game_id, store_id, edition, region, currency,
        current_price, original_price, available, observed_at
    FROM price_observations
    WHERE game_id = $1
      AND observed_at >= $2
    ORDER BY observed_at;`

	latestObservationSQL = `SELECT
        game_id, store_id, edition, region, currency,
        current_price, original_price, available, observed_at
    FROM price_observations
    WHERE game_id = $1
      AND ($2 = '' OR store_id = $2)
      AND ($3 = '' OR edition = $3)
    ORDER BY observed_at DESC
    LIMIT 1;`

	listRecentObservationsSQL = `SELECT
        game_id, store_id, edition, region, currency,
        current_price, original_price, available, observed_at
    FROM price_observations
    ORDER BY observed_at DESC
    LIMIT $1;`

	allTimeLowSQL = `SELECT MIN(current_price)
    FROM price_observations
    WHERE game_id = $1
      AND available;`

	upsertAlertSQL = `INSERT INTO alerts (
        id,
        user_id,
        game_id,
        target_price,
        current_price,
        channels,
        status,
        created_at,
        triggered_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (id) DO UPDATE
    SET current_price = EXCLUDED.current_price,
        status        = EXCLUDED.status,
        triggered_at  = EXCLUDED.triggered_at;`

	deleteAlertSQL = `DELETE FROM alerts WHERE id = $1;`

	listAlertsSQL = `SELECT
        id, user_id, game_id, target_price, current_price,
        channels, status, created_at, triggered_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	loadAllAlertsSQL = `SELECT
        id, user_id, game_id, target_price, current_price,
        channels, status, created_at, triggered_at
    FROM alerts;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ObservationStore persists and queries price observations.
type ObservationStore interface {
	InsertObservation(ctx context.Context, obs model.PriceObservation) error
	ListHistory(ctx context.Context, gameID string, since time.Time) ([]model.PriceObservation, error)
	LatestObservation(ctx context.Context, gameID, storeID, edition string) (model.PriceObservation, error)
	ListRecentObservations(ctx context.Context, limit int) ([]model.PriceObservation, error)
	AllTimeLow(ctx context.Context, gameID string) (decimal.Decimal, error)
}

// AlertReader loads journaled alerts, e.g. to rebuild the registry at startup.
type AlertReader interface {
	LoadAlerts(ctx context.Context) ([]alert.Alert, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]alert.Alert, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to observations and the alert journal.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

// InsertObservation records one observation. Duplicate rows are ignored;
// observations are immutable once stored.
func (s *Store) InsertObservation(ctx context.Context, obs model.PriceObservation) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertObservationSQL,
		obs.GameID,
		obs.StoreID,
		obs.Edition,
		obs.Region,
		obs.Currency,
		obs.CurrentPrice.String(),
		obs.OriginalPrice.String(),
		obs.IsAvailable,
		obs.ObservedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert observation: %w", execErr)
	}
	return nil
}

// ListHistory returns a game's observations since a point in time, oldest first.
func (s *Store) ListHistory(ctx context.Context, gameID string, since time.Time) ([]model.PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listHistorySQL, gameID, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list history: %w", queryErr)
	}
	defer rows.Close()

	return collectObservations(rows)
}

// LatestObservation returns the freshest observation matching the filters.
// Empty storeID or edition matches any.
func (s *Store) LatestObservation(ctx context.Context, gameID, storeID, edition string) (model.PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.PriceObservation{}, err
	}

	rows, queryErr := pool.Query(ctx, latestObservationSQL, gameID, storeID, edition)
	if queryErr != nil {
		return model.PriceObservation{}, fmt.Errorf("latest observation: %w", queryErr)
	}
	defer rows.Close()

	observations, err := collectObservations(rows)
	if err != nil {
		return model.PriceObservation{}, err
	}
	if len(observations) == 0 {
		return model.PriceObservation{}, ErrNoObservations
	}
	return observations[0], nil
}

// ListRecentObservations lists the most recent observations across all games.
func (s *Store) ListRecentObservations(ctx context.Context, limit int) ([]model.PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentObservationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent observations: %w", queryErr)
	}
	defer rows.Close()

	return collectObservations(rows)
}

// AllTimeLow returns the lowest available price ever observed for a game.
func (s *Store) AllTimeLow(ctx context.Context, gameID string) (decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Decimal{}, err
	}

	var low *string
	if scanErr := pool.QueryRow(ctx, allTimeLowSQL, gameID).Scan(&low); scanErr != nil {
		return decimal.Decimal{}, fmt.Errorf("all-time low: %w", scanErr)
	}
	if low == nil {
		return decimal.Decimal{}, ErrNoObservations
	}

	value, convErr := decimal.NewFromString(*low)
	if convErr != nil {
		return decimal.Decimal{}, fmt.Errorf("parse all-time low: %w", convErr)
	}
	return value, nil
}

// SaveAlert journals an alert's current state. Implements alert.Journal.
func (s *Store) SaveAlert(ctx context.Context, a alert.Alert) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	channels := make([]string, 0, len(a.Channels))
	for _, ch := range a.Channels {
		channels = append(channels, string(ch))
	}

	var triggeredAt interface{}
	if a.TriggeredAt != nil {
		triggeredAt = *a.TriggeredAt
	}

	_, execErr := pool.Exec(ctx, upsertAlertSQL,
		a.ID,
		a.UserID,
		a.GameID,
		a.TargetPrice.String(),
		a.CurrentPrice.String(),
		channels,
		string(a.Status),
		a.CreatedAt,
		triggeredAt,
	)
	if execErr != nil {
		return fmt.Errorf("save alert: %w", execErr)
	}
	return nil
}

// DeleteAlert removes an alert from the journal. Implements alert.Journal.
func (s *Store) DeleteAlert(ctx context.Context, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertSQL, id); execErr != nil {
		return fmt.Errorf("delete alert: %w", execErr)
	}
	return nil
}

// LoadAlerts returns every journaled alert.
func (s *Store) LoadAlerts(ctx context.Context) ([]alert.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, loadAllAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("load alerts: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// ListRecentAlerts lists the most recently created alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]alert.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

func collectObservations(rows pgx.Rows) ([]model.PriceObservation, error) {
	observations := make([]model.PriceObservation, 0)
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

func scanObservation(rows pgx.Rows) (model.PriceObservation, error) {
	var (
		obs         model.PriceObservation
		currentStr  string
		originalStr string
	)

	if err := rows.Scan(
		&obs.GameID,
		&obs.StoreID,
		&obs.Edition,
		&obs.Region,
		&obs.Currency,
		&currentStr,
		&originalStr,
		&obs.IsAvailable,
		&obs.ObservedAt,
	); err != nil {
		return model.PriceObservation{}, err
	}

	var convErr error
	obs.CurrentPrice, convErr = decimal.NewFromString(currentStr)
	if convErr != nil {
		return model.PriceObservation{}, fmt.Errorf("parse current price: %w", convErr)
	}
	obs.OriginalPrice, convErr = decimal.NewFromString(originalStr)
	if convErr != nil {
		return model.PriceObservation{}, fmt.Errorf("parse original price: %w", convErr)
	}
	return obs, nil
}

func collectAlerts(rows pgx.Rows) ([]alert.Alert, error) {
	alerts := make([]alert.Alert, 0)
	for rows.Next() {
		var (
			a           alert.Alert
			targetStr   string
			currentStr  string
			channels    []string
			status      string
			triggeredAt *time.Time
		)
		if err := rows.Scan(
			&a.ID,
			&a.UserID,
			&a.GameID,
			&targetStr,
			&currentStr,
			&channels,
			&status,
			&a.CreatedAt,
			&triggeredAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		a.TargetPrice, convErr = decimal.NewFromString(targetStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse target price: %w", convErr)
		}
		a.CurrentPrice, convErr = decimal.NewFromString(currentStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse current price: %w", convErr)
		}

		parsed, err := model.ParseChannels(channels)
		if err != nil {
			return nil, fmt.Errorf("parse channels: %w", err)
		}
		a.Channels = parsed
		a.Status = alert.Status(status)
		a.TriggeredAt = triggeredAt

		alerts = append(alerts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}
