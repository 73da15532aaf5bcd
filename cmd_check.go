package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"listing_dedup/identity"
	"listing_dedup/models"
)

var checkCmd = &cobra.Command{
	Use:   "check <title>",
	Short: "Check whether a listing duplicates a stored one",
	Long: `Check one listing against the store without saving it.

Examples:
  listing_dedup check "Satılık 3+1 Daire Hendek Merkez" --price "2.500.000 TL" --location "Sakarya / Hendek"
  listing_dedup check "Kiralık Ofis" --source-id 12345678 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceID, _ := cmd.Flags().GetString("source-id")
		price, _ := cmd.Flags().GetString("price")
		location, _ := cmd.Flags().GetString("location")
		category, _ := cmd.Flags().GetString("category")
		transaction, _ := cmd.Flags().GetString("transaction")
		asJSON, _ := cmd.Flags().GetBool("json")

		probe := &models.ListingProbe{
			SourceID:        sourceID,
			Title:           identity.SanitizeTitle(args[0]),
			PriceValue:      identity.ParsePrice(price),
			Category:        models.Category(category),
			TransactionType: models.TransactionType(transaction),
		}
		loc := identity.SplitLocation(location)
		probe.City, probe.District = loc.City, loc.District

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

		res, err := svc.CheckDuplicate(ctx, probe, nil)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		if !res.IsDuplicate {
			fmt.Printf("%s Not a duplicate (best score %d, %d candidates compared)\n",
				color.GreenString("✓"), res.Score, res.ComparedCount)
			return nil
		}
		fmt.Printf("%s Duplicate of %s (%s, score %d)\n",
			color.YellowString("!"), res.DuplicateOf, reasonLabel(res.Reason), res.Score)
		if m := res.MatchedListing; m != nil {
			fmt.Printf("  %s  %s\n", m.SourceID, m.Title)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().String("source-id", "", "Listing number on the source site")
	checkCmd.Flags().String("price", "", `Display price, e.g. "2.500.000 TL"`)
	checkCmd.Flags().String("location", "", `"City / District / Neighborhood"`)
	checkCmd.Flags().String("category", "", "konut, isyeri, arsa or bina")
	checkCmd.Flags().String("transaction", "", "satilik, kiralik, devren-satilik, devren-kiralik or kat-karsiligi")
	checkCmd.Flags().Bool("json", false, "Print the result as JSON")
	rootCmd.AddCommand(checkCmd)
}
