package cmd

import (
	"github.com/spf13/cobra"

	"travel-booking/internal/app"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print booking and sync counts from the local store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			stats, err := a.Bookings.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(stats)
		})
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Print revenue, type, status and top route analytics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			analytics, err := a.Bookings.Analytics(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(analytics)
		})
	},
}
