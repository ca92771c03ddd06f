package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recent observations and alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show data")
	}
	if closeStore != nil {
		defer closeStore()
	}

	observations, err := store.ListRecentObservations(ctx, opts.Limit)
	if err != nil {
		return err
	}

	if len(observations) == 0 {
		fmt.Fprintln(os.Stdout, "no observations found")
	} else {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Observed (UTC)\tGame\tStore\tEdition\tRegion\tPrice\tOriginal\tDiscount%\tAvailable")
		for _, obs := range observations {
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
				obs.ObservedAt.UTC().Format(time.RFC3339),
				obs.GameID,
				obs.StoreID,
				obs.Edition,
				obs.Region,
				formatDecimal(obs.CurrentPrice, 2),
				formatDecimal(obs.OriginalPrice, 2),
				formatDecimal(obs.Discount().Mul(decimal.NewFromInt(100)), 1),
				obs.IsAvailable,
			)
		}
		writer.Flush()
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tID\tUser\tGame\tTarget\tCurrent\tStatus\tTriggered (UTC)")
	for _, al := range alerts {
		triggered := ""
		if al.TriggeredAt != nil {
			triggered = al.TriggeredAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			al.CreatedAt.UTC().Format(time.RFC3339),
			al.ID,
			al.UserID,
			al.GameID,
			formatDecimal(al.TargetPrice, 2),
			formatDecimal(al.CurrentPrice, 2),
			al.Status,
			triggered,
		)
	}
	writer.Flush()
	return nil
}
