package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"travel-booking/internal/app"
	"travel-booking/internal/config"
	"travel-booking/internal/logger"
)

var (
	cfg      *config.Config
	log      *logger.Logger
	dbPath   string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "booking-sync",
	Short: "Offline travel booking sync engine",
	Long: `booking-sync keeps travel bookings in a local SQLite store while offline
and reconciles them with the booking service once connectivity returns.`,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
	SilenceUsage:       true,
	SilenceErrors:      true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the local booking database (overrides DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")

	rootCmd.AddCommand(serveCmd, syncCmd, statsCmd, analyzeCmd, migrateCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if log != nil {
			log.Fatal("APP", err.Error())
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup(_ *cobra.Command, _ []string) error {
	envLoaded := godotenv.Load() == nil

	cfg = config.Load()
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	var err error
	log, err = logger.NewLogger(logger.Options{
		Dir:     cfg.Log.Dir,
		Level:   logger.ParseLevel(cfg.Log.Level),
		NoColor: cfg.Log.NoColor,
	})
	if err != nil {
		return err
	}
	if envLoaded {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	} else {
		log.Debug("CONFIG", ".env file not found, using environment variables")
	}
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	log.Close()
	return nil
}

// withApp starts the engine, runs fn and shuts everything down again.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
