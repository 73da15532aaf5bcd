package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"listing_dedup/models"
	"listing_dedup/services"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Sweep unresolved listings for duplicates",
	Long: `Sweep every listing that is not yet a duplicate, oldest first, and link the
duplicates found to their canonical record.

Examples:
  listing_dedup scan                       # Full sweep
  listing_dedup scan --dry-run             # Report without changing anything
  listing_dedup scan --since 2025-03-01    # Only records crawled since then
  listing_dedup scan --report-dir reports  # Archive the JSON report locally`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		sinceStr, _ := cmd.Flags().GetString("since")
		reportDir, _ := cmd.Flags().GetString("report-dir")

		so := services.ScanOptions{DryRun: dryRun}
		if sinceStr != "" {
			since, err := parseSince(sinceStr)
			if err != nil {
				return err
			}
			so.Since = &since
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		svc, err := newService(store)
		if err != nil {
			return err
		}
		sweepLock, closeLock, err := newSweepLock(ctx)
		if err != nil {
			return err
		}
		defer closeLock()
		archive, err := newArchive(ctx, reportDir)
		if err != nil {
			return err
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		so.OnProgress = func(processed, found int) {
			fmt.Printf("%s\n", gray(fmt.Sprintf("  %d processed, %d duplicates", processed, found)))
		}

		if dryRun {
			fmt.Printf("%s\n", color.YellowString("DRY RUN MODE - No listings will be marked"))
		}
		out, err := services.NewSweeper(svc, sweepLock, archive).Run(ctx, "cli", so)
		if out != nil && out.Result != nil {
			printScanResult(out)
		}
		return err
	},
}

// parseSince accepts a date or an RFC 3339 timestamp
func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

func printScanResult(out *services.SweepOutcome) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	res := out.Result

	fmt.Printf("\n%s\n", cyan("Scan Result"))
	if out.Run != nil {
		fmt.Printf("  Run:        #%d (%s)\n", out.Run.ID, out.Run.Status)
	}
	fmt.Printf("  Total:      %d\n", res.Total)
	fmt.Printf("  Scanned:    %d\n", res.Scanned)
	fmt.Printf("  Duplicates: %s\n", green(res.DuplicatesFound))
	if len(res.Skipped) > 0 {
		fmt.Printf("  Skipped:    %s\n", yellow(len(res.Skipped)))
	}
	if len(res.Failed) > 0 {
		fmt.Printf("  Failed:     %s\n", red(len(res.Failed)))
	}

	if len(res.Duplicates) > 0 {
		fmt.Println()
		for _, d := range res.Duplicates {
			fmt.Printf("  %s %s  %s → %s  %s %d\n",
				green("✓"), d.SourceID, truncate(d.Title, 40), d.DuplicateOf.String()[:8], reasonLabel(d.Reason), d.Score)
		}
	}
	if out.ReportURL != "" {
		fmt.Printf("\nReport: %s\n", out.ReportURL)
	}
}

func reasonLabel(r models.DuplicateReason) string {
	switch r {
	case models.ReasonExactID:
		return color.MagentaString(string(r))
	case models.ReasonFuzzyTitle:
		return color.CyanString(string(r))
	case models.ReasonComposite:
		return color.BlueString(string(r))
	case models.ReasonPriceLocation:
		return color.YellowString(string(r))
	}
	return string(r)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

func init() {
	scanCmd.Flags().Bool("dry-run", false, "Compute duplicates without marking them")
	scanCmd.Flags().String("since", "", "Only sweep records crawled on or after this date")
	scanCmd.Flags().String("report-dir", "", "Directory for the JSON report when no S3 bucket is configured")
	rootCmd.AddCommand(scanCmd)
}
