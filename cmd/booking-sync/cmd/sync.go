package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"travel-booking/internal/app"
)

var (
	retryFailed bool
	bookingID   int64
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg.Sync.AutoStart = false
		cfg.Sync.StartOnline = true
		cfg.Network.ProbeAddr = ""

		return withApp(cmd.Context(), func(a *app.App) error {
			var ok bool
			switch {
			case bookingID > 0:
				ok = a.Orchestrator.ForceSyncOne(cmd.Context(), bookingID)
			case retryFailed:
				ok = a.Orchestrator.RetryFailed(cmd.Context())
			default:
				ok = a.Orchestrator.SyncNow(cmd.Context())
			}

			status := a.State.Sync().Get()
			if err := printJSON(status); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("sync finished with %d failed bookings", status.FailedCount)
			}
			return nil
		})
	},
}

func init() {
	syncCmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "put failed bookings back to pending first")
	syncCmd.Flags().Int64Var(&bookingID, "booking", 0, "sync only this booking")
}
