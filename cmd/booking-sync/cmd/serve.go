package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"travel-booking/internal/app"
)

var portFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync engine with its local HTTP API",
	PreRun: func(*cobra.Command, []string) {
		if portFlag != "" {
			cfg.Server.Port = portFlag
		}
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("APP", "Starting booking sync engine")
		return withApp(ctx, func(a *app.App) error {
			return a.Serve(ctx)
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&portFlag, "port", "", "listen address (overrides PORT)")
}
