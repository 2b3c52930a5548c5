package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report tree statistics",
	Long: `Report tree depth, leaf/entry/value counts, and allocator
bookkeeping (total length, tail-free bytes, reclaimed regions).

Example:
  rtbtreectl stats`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tr, src, err := openTree()
		if err != nil {
			return err
		}
		defer src.Close()
		defer tr.Close()

		stats, err := tr.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("failed to compute stats: %w", err)
		}

		cmd.Printf("depth:             %d\n", stats.Depth)
		cmd.Printf("leaf_count:        %d\n", stats.LeafCount)
		cmd.Printf("live_entry_count:  %d\n", stats.LiveEntryCount)
		cmd.Printf("live_value_count:  %d\n", stats.LiveValueCount)
		cmd.Printf("total_length:      %d\n", stats.TotalLength)
		cmd.Printf("tail_free:         %d\n", stats.TailFree)
		cmd.Printf("reclaimed_total:   %d\n", stats.ReclaimedTotal)
		cmd.Printf("reclaimed_regions: %d\n", stats.ReclaimedRegions)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
