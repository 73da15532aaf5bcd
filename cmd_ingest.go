package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"listing_dedup/models"
	"listing_dedup/services"
)

const maxIngestLine = 1024 * 1024

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.jsonl | ->",
	Short: "Store crawler records and check each for duplicates",
	Long: `Read raw crawler records, one JSON object per line, store them as pending
listings and check each one right away. Duplicates are linked on the spot.

Fields: sourceId, sourceUrl, title, price, location, category,
transactionType and optionally priceValue, city, district, neighborhood,
crawledAt. Missing structured fields are derived from price and location.

Examples:
  listing_dedup ingest crawl.jsonl
  cat crawl.jsonl | listing_dedup ingest -
  listing_dedup ingest crawl.jsonl --no-check`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noCheck, _ := cmd.Flags().GetBool("no-check")

		var in io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
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

		sum, err := ingest(ctx, svc, in, !noCheck)
		fmt.Printf("%s Ingested %d listing(s), %d marked duplicate, %d invalid\n",
			color.GreenString("✓"), sum.inserted, sum.marked, sum.invalid)
		return err
	},
}

type ingestSummary struct {
	inserted, marked, invalid int
}

func ingest(ctx context.Context, svc *services.DedupService, in io.Reader, check bool) (ingestSummary, error) {
	var sum ingestSummary
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxIngestLine)

	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		var raw models.RawListing
		if err := json.Unmarshal(data, &raw); err != nil {
			log.Printf("Warning: line %d: %v", line, err)
			sum.invalid++
			continue
		}

		res, err := svc.Ingest(ctx, &raw, check)
		if errors.Is(err, services.ErrInvalidInput) {
			log.Printf("Warning: line %d: %v", line, err)
			sum.invalid++
			continue
		}
		if res != nil {
			sum.inserted++
			if res.Marked {
				sum.marked++
			}
		}
		if err != nil {
			return sum, fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sum, scanner.Err()
}

func init() {
	ingestCmd.Flags().Bool("no-check", false, "Only store the records, skip the duplicate check")
	rootCmd.AddCommand(ingestCmd)
}
