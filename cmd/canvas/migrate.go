package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"canvas/api/internal/store"
)

var migrateSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or revert database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		if err := store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the newest migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		reverted, err := store.RollbackMigrations(cmd.Context(), db, cfg.MigrationsDir, migrateSteps)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reverted %d migration(s)\n", reverted)
		return nil
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateSteps, "steps", 1, "Number of migrations to revert (0 reverts all)")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}
