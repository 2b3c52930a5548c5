package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ssargent/rtbtree/pkg/rtkey"
	"github.com/ssargent/rtbtree/pkg/search"
)

var (
	searchOp      string
	searchValue   string
	searchValues  []string
	searchPattern string
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run a comparison operator search",
	Long: `Run any of the tree's supported comparison operators: ==, !=, <,
<=, >, >=, in, !in, between, !between, like, !like, matches, !matches,
exists, !exists.

Example:
  rtbtreectl search --op="==" --value=mykey
  rtbtreectl search --op=in --values=a,b,c
  rtbtreectl search --op=like --pattern="a*"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tr, src, err := openTree()
		if err != nil {
			return err
		}
		defer src.Close()
		defer tr.Close()

		crit := search.Criteria{Operator: search.Operator(searchOp), Pattern: searchPattern}

		if searchValue != "" {
			val, err := parseKey(searchValue, keyType)
			if err != nil {
				return fmt.Errorf("invalid --value: %w", err)
			}
			crit.Value = val
		}
		if len(searchValues) > 0 {
			var values []rtkey.Value
			for _, raw := range searchValues {
				val, err := parseKey(strings.TrimSpace(raw), keyType)
				if err != nil {
					return fmt.Errorf("invalid --values entry %q: %w", raw, err)
				}
				values = append(values, val)
			}
			crit.Values = values
		}
		if lowKey != "" {
			val, err := parseKey(lowKey, keyType)
			if err != nil {
				return fmt.Errorf("invalid --low: %w", err)
			}
			crit.Low = val
		}
		if highKey != "" {
			val, err := parseKey(highKey, keyType)
			if err != nil {
				return fmt.Errorf("invalid --high: %w", err)
			}
			crit.High = val
		}

		results, err := tr.Search(context.Background(), crit, search.Projection{IncludeKeys: true, IncludeValues: true})
		if err != nil {
			return fmt.Errorf("failed to search: %w", err)
		}

		printResults(cmd, results)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVar(&keyType, "type", "string", "Key type: string, number, bool, date")
	searchCmd.Flags().StringVar(&searchOp, "op", "", "Operator: ==, !=, <, <=, >, >=, in, !in, between, !between, like, !like, matches, !matches, exists, !exists (required)")
	searchCmd.Flags().StringVar(&searchValue, "value", "", "Value, for ==/!=/</<=/>/>=")
	searchCmd.Flags().StringSliceVar(&searchValues, "values", nil, "Comma-separated values, for in/!in")
	searchCmd.Flags().StringVar(&lowKey, "low", "", "Low bound, for between/!between")
	searchCmd.Flags().StringVar(&highKey, "high", "", "High bound, for between/!between")
	searchCmd.Flags().StringVar(&searchPattern, "pattern", "", "Pattern, for like/!like/matches/!matches")
	_ = searchCmd.MarkFlagRequired("op")
}
