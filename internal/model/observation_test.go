package model

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validObservation() PriceObservation {
	return PriceObservation{
		GameID:        "g1",
		StoreID:       "store-1",
		Region:        "US",
		Currency:      "USD",
		CurrentPrice:  decimal.RequireFromString("29.99"),
		OriginalPrice: decimal.RequireFromString("59.99"),
		IsAvailable:   true,
		ObservedAt:    time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestValidateObservation(t *testing.T) {
	if err := ValidateObservation(validObservation()); err != nil {
		t.Fatalf("valid observation rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*PriceObservation)
		field  string
	}{
		{"empty game", func(o *PriceObservation) { o.GameID = "" }, "gameId"},
		{"empty store", func(o *PriceObservation) { o.StoreID = "" }, "storeId"},
		{"empty currency", func(o *PriceObservation) { o.Currency = "" }, "currency"},
		{"zero price", func(o *PriceObservation) { o.CurrentPrice = decimal.Zero }, "currentPrice"},
		{"negative price", func(o *PriceObservation) { o.CurrentPrice = decimal.RequireFromString("-1") }, "currentPrice"},
		{"original below current", func(o *PriceObservation) { o.OriginalPrice = decimal.RequireFromString("19.99") }, "originalPrice"},
		{"zero timestamp", func(o *PriceObservation) { o.ObservedAt = time.Time{} }, "observedAt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obs := validObservation()
			tc.mutate(&obs)

			err := ValidateObservation(obs)
			var validationErr *ObservationValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected ObservationValidationError, got %v", err)
			}
			if validationErr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, validationErr.Field)
			}
		})
	}
}

func TestDiscount(t *testing.T) {
	obs := validObservation()
	if got := obs.Discount().StringFixed(4); got != "0.5001" {
		t.Fatalf("expected discount 0.5001, got %s", got)
	}

	// No original price means no discount claim.
	obs.OriginalPrice = decimal.Zero
	if !obs.Discount().IsZero() {
		t.Fatalf("expected zero discount without original price, got %s", obs.Discount())
	}

	// Price above original clamps to zero rather than reporting negative.
	obs = validObservation()
	obs.CurrentPrice = decimal.RequireFromString("69.99")
	obs.OriginalPrice = decimal.RequireFromString("59.99")
	if !obs.Discount().IsZero() {
		t.Fatalf("expected clamped discount, got %s", obs.Discount())
	}
}

func TestParseChannels(t *testing.T) {
	channels, err := ParseChannels([]string{"email", "push", "email", "in-app"})
	if err != nil {
		t.Fatalf("parse channels: %v", err)
	}
	want := []Channel{ChannelEmail, ChannelPush, ChannelInApp}
	if len(channels) != len(want) {
		t.Fatalf("expected %d channels, got %d", len(want), len(channels))
	}
	for i := range want {
		if channels[i] != want[i] {
			t.Fatalf("expected %s at %d, got %s", want[i], i, channels[i])
		}
	}

	if _, err := ParseChannels([]string{"email", "fax"}); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}
