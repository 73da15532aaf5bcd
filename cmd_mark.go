package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"listing_dedup/models"
)

var markCmd = &cobra.Command{
	Use:   "mark <id> <canonical-id>",
	Short: "Link a listing to its canonical record by hand",
	Long: `Mark a listing as a duplicate of another one. Re-marking an existing
duplicate overwrites its link. Links to a record that is itself a duplicate
are refused.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, _ := cmd.Flags().GetFloat64("score")
		reason, _ := cmd.Flags().GetString("reason")

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[0], err)
		}
		target, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid canonical id %q: %w", args[1], err)
		}

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()
		svc, err := newService(store)
		if err != nil {
			return err
		}

		if err := svc.MarkAsDuplicate(ctx, id, target, score, models.DuplicateReason(reason)); err != nil {
			return err
		}
		fmt.Printf("%s Marked %s as duplicate of %s\n", color.GreenString("✓"), id, target)
		return nil
	},
}

func init() {
	markCmd.Flags().Float64("score", 100, "Duplicate score (0-100)")
	markCmd.Flags().String("reason", string(models.ReasonExactID), "exact_id, fuzzy_title, composite or price_location")
	rootCmd.AddCommand(markCmd)
}
