package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dealwatch/internal/alert"
	"dealwatch/internal/model"
)

// SimulateAlert pushes one synthetic observation through the real evaluation
// and dispatch path. Nothing is persisted; the registry lives only for the
// duration of the call.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if opts.GameID == "" {
		return errors.New("--game must be provided")
	}

	target, err := decimal.NewFromString(opts.TargetPrice)
	if err != nil {
		return fmt.Errorf("invalid --target value: %w", err)
	}
	price, err := decimal.NewFromString(opts.Price)
	if err != nil {
		return fmt.Errorf("invalid --price value: %w", err)
	}
	if target.LessThanOrEqual(decimal.Zero) || price.LessThanOrEqual(decimal.Zero) {
		return errors.New("--target and --price must be greater than zero")
	}

	channels, err := model.ParseChannels(opts.Channels)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		channels = []model.Channel{model.ChannelInApp}
	}

	userID := opts.UserID
	if userID == "" {
		userID = "simulated-user"
	}

	registry := alert.NewRegistry(nil, a.Logger)
	evaluator := alert.NewEvaluator(registry, a.newDispatcher(), a.evaluatorOptions(), a.Logger)
	evaluator.Start(ctx)

	// Anchor the alert above the target so the creation validation holds.
	anchor := target.Mul(decimal.NewFromInt(2))
	if price.GreaterThan(anchor) {
		anchor = price.Add(decimal.NewFromInt(1))
	}

	created, err := registry.Create(ctx, userID, opts.GameID, target, channels, anchor)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	observation := model.PriceObservation{
		GameID:        opts.GameID,
		StoreID:       "simulated-store",
		Region:        a.Config.Scoring.HomeRegion,
		Currency:      "USD",
		CurrentPrice:  price,
		OriginalPrice: anchor,
		IsAvailable:   true,
		ObservedAt:    now,
	}

	if err := evaluator.Evaluate(ctx, []model.PriceObservation{observation}); err != nil {
		return err
	}
	evaluator.Close()

	final, _ := registry.Get(created.ID)
	a.Logger.Info().
		Str("alert_id", created.ID).
		Str("status", string(final.Status)).
		Int64("dispatched", evaluator.Dispatched()).
		Int64("delivery_failures", evaluator.DeliveryFailures()).
		Msg("simulation complete")

	if final.Status != alert.StatusTriggered {
		return fmt.Errorf("price %s did not reach target %s; alert stayed %s", price, target, final.Status)
	}
	return nil
}
