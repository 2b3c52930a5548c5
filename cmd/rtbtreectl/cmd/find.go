package cmd

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssargent/rtbtree/pkg/search"
)

// findCmd represents the find command
var findCmd = &cobra.Command{
	Use:   "find <key>",
	Short: "Find all values for a key",
	Long: `Find every value stored under a key.

Example:
  rtbtreectl find mykey`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tr, src, err := openTree()
		if err != nil {
			return err
		}
		defer src.Close()
		defer tr.Close()

		key, err := parseKey(args[0], keyType)
		if err != nil {
			return err
		}

		results, err := tr.Find(context.Background(), key, search.Projection{IncludeKeys: true, IncludeValues: true})
		if err != nil {
			return fmt.Errorf("failed to find key: %w", err)
		}

		printResults(cmd, results)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(findCmd)
	findCmd.Flags().StringVar(&keyType, "type", "string", "Key type: string, number, bool, date")
}

// printResults renders search.Result rows to the command's output.
func printResults(cmd *cobra.Command, results []search.Result) {
	if len(results) == 0 {
		cmd.Println("No matches")
		return
	}
	for _, r := range results {
		cmd.Printf("%s\n", formatKey(r.Key))
		for _, v := range r.Values {
			cmd.Printf("  record_pointer=%s", hex.EncodeToString(v.RecordPointer))
			for i, m := range v.Metadata {
				cmd.Printf(" metadata[%d]=%s", i, formatKey(m))
			}
			cmd.Println()
		}
	}
}
