package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"travel-booking/internal/bookings/db"
	"travel-booking/internal/database/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Inspect or change the local store schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending schema migrations",
	RunE: withMigrations(func(r *migrations.Runner) error {
		return r.MigrateUp()
	}),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every schema migration, dropping all local data",
	RunE: withMigrations(func(r *migrations.Runner) error {
		return r.MigrateDown()
	}),
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	RunE: withMigrations(func(r *migrations.Runner) error {
		version, err := r.Version()
		if err != nil {
			return err
		}
		fmt.Println(version)
		return nil
	}),
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

// withMigrations opens the store without touching its schema and hands fn
// the migration runner for it.
func withMigrations(fn func(*migrations.Runner) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		store, err := db.Open(cmd.Context(), db.Options{
			Path:           cfg.Database.Path,
			BusyTimeout:    cfg.Database.BusyTimeout,
			Logger:         log,
			SkipMigrations: true,
		})
		if err != nil {
			return err
		}
		defer store.Close()

		runner := store.Migrations()
		if err := fn(runner); err != nil {
			return err
		}
		version, err := runner.Version()
		if err != nil {
			return err
		}
		log.LogDatabase("MIGRATE", cfg.Database.Path, fmt.Sprintf("schema at version %d", version))
		return nil
	}
}
