package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"listing_dedup/models"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show duplicate statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		stats, err := svc.GetDuplicateStats(ctx)
		if err != nil {
			return err
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("%s\n", cyan("Listings"))
		fmt.Printf("  Total:      %d\n", stats.Total)
		fmt.Printf("  Duplicates: %d\n", stats.Duplicates)
		for _, st := range models.AllStatuses {
			fmt.Printf("  %-10s  %d\n", st, stats.ByStatus[st])
		}

		fmt.Printf("\n%s\n", cyan("By reason"))
		for _, r := range models.AllReasons {
			fmt.Printf("  %-24s %d\n", reasonLabel(r), stats.ByReason[r])
		}

		fmt.Printf("\n%s\n", cyan("Recently processed"))
		if len(stats.RecentDuplicates) == 0 {
			fmt.Printf("  %s\n", gray("none"))
		}
		for _, d := range stats.RecentDuplicates {
			when := "-"
			if d.ProcessedAt != nil {
				when = d.ProcessedAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Printf("  %s  %s → %s  %s %.0f\n",
				gray(when), truncate(d.Title, 40), d.DuplicateOf.String()[:8], reasonLabel(d.Reason), d.Score)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
