package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssargent/rtbtree/pkg/search"
)

var (
	lowKey  string
	highKey string
)

// rangeCmd represents the range command
var rangeCmd = &cobra.Command{
	Use:   "range",
	Short: "Scan a key range",
	Long: `Scan all entries with keys between --low and --high, inclusive.

Example:
  rtbtreectl range --low=apple --high=banana`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tr, src, err := openTree()
		if err != nil {
			return err
		}
		defer src.Close()
		defer tr.Close()

		low, err := parseKey(lowKey, keyType)
		if err != nil {
			return fmt.Errorf("invalid --low: %w", err)
		}
		high, err := parseKey(highKey, keyType)
		if err != nil {
			return fmt.Errorf("invalid --high: %w", err)
		}

		results, err := tr.Search(context.Background(), search.Criteria{
			Operator: search.Between,
			Low:      low,
			High:     high,
		}, search.Projection{IncludeKeys: true, IncludeValues: true})
		if err != nil {
			return fmt.Errorf("failed to scan range: %w", err)
		}

		printResults(cmd, results)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rangeCmd)
	rangeCmd.Flags().StringVar(&keyType, "type", "string", "Key type: string, number, bool, date")
	rangeCmd.Flags().StringVar(&lowKey, "low", "", "Low bound, inclusive (required)")
	rangeCmd.Flags().StringVar(&highKey, "high", "", "High bound, inclusive (required)")
	_ = rangeCmd.MarkFlagRequired("low")
	_ = rangeCmd.MarkFlagRequired("high")
}
