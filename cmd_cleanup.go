package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old rejected listings",
	Long: `Delete rejected listings processed more than --days days ago. Rejected
listings that a duplicate still points at are kept.

Examples:
  listing_dedup cleanup            # Older than 30 days
  listing_dedup cleanup --days 90`,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		if days < 0 {
			return errors.New("--days cannot be negative")
		}

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		before := time.Now().AddDate(0, 0, -days)
		n, err := store.PurgeRejected(ctx, before)
		if err != nil {
			return err
		}
		fmt.Printf("%s Deleted %d rejected listing(s) processed before %s\n",
			color.GreenString("✓"), n, before.Format("2006-01-02"))
		return nil
	},
}

func init() {
	cleanupCmd.Flags().Int("days", 30, "Retention in days")
	rootCmd.AddCommand(cleanupCmd)
}
