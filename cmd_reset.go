package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"listing_dedup/storage"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all listings and scan runs from the local SQLite database",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if cfg.DatabaseURL != "" {
			return errors.New("reset only works on the local SQLite database (unset DATABASE_URL)")
		}
		if !yes {
			return fmt.Errorf("refusing to reset %s without --yes", cfg.DBPath)
		}

		store, err := openStore(context.Background())
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.(*storage.SQLiteStore).ResetAllData(); err != nil {
			return err
		}
		fmt.Printf("%s Cleared %s\n", color.GreenString("✓"), cfg.DBPath)
		return nil
	},
}

func init() {
	resetCmd.Flags().Bool("yes", false, "Confirm deleting all data")
	rootCmd.AddCommand(resetCmd)
}
