// Package alert owns the price-alert lifecycle: the registry holds every
// alert record and serializes status transitions per alert id; the evaluator
// matches observation batches against active alerts and hands successful
// triggers to the notification dispatcher exactly once.
package alert

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dealwatch/internal/model"
)

// Status is the alert lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusTriggered Status = "triggered"
	StatusExpired   Status = "expired"
)

// Alert is a user's request to be notified when a game's price falls to or
// below a target. Records are destroyed only by explicit deletion; triggering
// and expiry are status changes.
type Alert struct {
	ID           string
	UserID       string
	GameID       string
	TargetPrice  decimal.Decimal
	CurrentPrice decimal.Decimal
	Channels     []model.Channel
	Status       Status
	CreatedAt    time.Time
	TriggeredAt  *time.Time
}

// ErrAlertNotFound reports an unknown alert id on a non-idempotent operation.
var ErrAlertNotFound = errors.New("alert not found")

// InvalidTargetPriceError rejects an alert that would not request an
// improvement over the current price.
type InvalidTargetPriceError struct {
	Target  decimal.Decimal
	Current decimal.Decimal
}

func (e *InvalidTargetPriceError) Error() string {
	return fmt.Sprintf("targetPrice %s must be positive and below the current price %s", e.Target, e.Current)
}

// ErrNoChannels rejects an alert without at least one delivery channel.
var ErrNoChannels = errors.New("at least one notification channel is required")

// InvalidTransitionError reports a status transition the state machine does
// not allow. Registry state is unchanged when it is returned.
type InvalidTransitionError struct {
	AlertID string
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("alert %s: cannot transition from %s to %s", e.AlertID, e.From, e.To)
}

// Progress derives the UI-facing gap and percentage for an alert. It is
// recomputed on every read and never persisted.
func Progress(a Alert) (priceGap decimal.Decimal, progressPct float64) {
	gap := a.CurrentPrice.Sub(a.TargetPrice)

	denom := a.CurrentPrice
	if denom.LessThan(decimal.NewFromInt(1)) {
		denom = decimal.NewFromInt(1)
	}
	pct := 100 * (1 - gap.Div(denom).InexactFloat64())
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return gap, pct
}
