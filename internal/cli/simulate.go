package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"dealwatch/internal/app"
)

var (
	simulateGame     string
	simulateUser     string
	simulateTarget   string
	simulatePrice    string
	simulateChannels []string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Push a synthetic price observation through the alert pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateTarget == "" || simulatePrice == "" {
			return errors.New("--target and --price must be provided")
		}

		opts := app.SimulateOptions{
			GameID:      simulateGame,
			UserID:      simulateUser,
			TargetPrice: simulateTarget,
			Price:       simulatePrice,
			Channels:    simulateChannels,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateGame, "game", "", "Game id to simulate against")
	simulateCmd.Flags().StringVar(&simulateUser, "user", "", "User id for the simulated alert")
	simulateCmd.Flags().StringVar(&simulateTarget, "target", "", "Alert target price")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "Observed price to evaluate")
	simulateCmd.Flags().StringSliceVar(&simulateChannels, "channel", nil, "Notification channels (email, push, in-app)")
}
