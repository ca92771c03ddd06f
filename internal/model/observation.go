package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceObservation is one store's current offer for one edition of one game.
// Observations are immutable once recorded; a later observation supersedes an
// earlier one, it never mutates it.
type PriceObservation struct {
	GameID        string
	StoreID       string
	Edition       string
	Region        string
	Currency      string
	CurrentPrice  decimal.Decimal
	OriginalPrice decimal.Decimal
	IsAvailable   bool
	ObservedAt    time.Time
}

// Discount derives the fractional discount (1 - current/original), clamped to
// be non-negative. Observations without a meaningful original price report zero.
func (o PriceObservation) Discount() decimal.Decimal {
	if o.OriginalPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	d := decimal.NewFromInt(1).Sub(o.CurrentPrice.Div(o.OriginalPrice))
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// ObservationValidationError reports an observation field that failed ingestion
// validation.
type ObservationValidationError struct {
	Field  string
	Reason string
}

func (e *ObservationValidationError) Error() string {
	return fmt.Sprintf("invalid observation: %s %s", e.Field, e.Reason)
}

// ValidateObservation rejects observations that must not be scored or matched
// against alerts. Invalid rows are refused at ingestion, never silently fixed.
func ValidateObservation(o PriceObservation) error {
	if o.GameID == "" {
		return &ObservationValidationError{Field: "gameId", Reason: "must not be empty"}
	}
	if o.StoreID == "" {
		return &ObservationValidationError{Field: "storeId", Reason: "must not be empty"}
	}
	if o.Currency == "" {
		return &ObservationValidationError{Field: "currency", Reason: "must not be empty"}
	}
	if o.CurrentPrice.LessThanOrEqual(decimal.Zero) {
		return &ObservationValidationError{Field: "currentPrice", Reason: "must be greater than zero"}
	}
	if o.OriginalPrice.GreaterThan(decimal.Zero) && o.OriginalPrice.LessThan(o.CurrentPrice) {
		return &ObservationValidationError{Field: "originalPrice", Reason: "must not be below currentPrice"}
	}
	if o.ObservedAt.IsZero() {
		return &ObservationValidationError{Field: "observedAt", Reason: "must be set"}
	}
	return nil
}
