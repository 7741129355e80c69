package main

import (
	"github.com/spf13/cobra"

	"github.com/couchcryptid/storm-asset-linker/internal/config"
	"github.com/couchcryptid/storm-asset-linker/internal/database"
)

var migrateArgs struct {
	steps int
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return err
		}
		cmd.Println("migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := database.RollbackMigrations(cfg.DatabaseURL, migrateArgs.steps); err != nil {
			return err
		}
		cmd.Printf("rolled back %d migration(s)\n", migrateArgs.steps)
		return nil
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateArgs.steps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
}
