package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssargent/rtbtree/pkg/bytesource"
	"github.com/ssargent/rtbtree/pkg/rtree"
)

var rebuildOutFile string

// rebuildCmd represents the rebuild command
var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the tree into a new file",
	Long: `Rebuild reconstructs a dense tree into a new file from the live
entries, shedding the reclaimed regions and free-space slack left by
Add/Remove churn.

Example:
  rtbtreectl rebuild --out=./index.compacted.rtbtree`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tr, src, err := openTree()
		if err != nil {
			return err
		}
		defer src.Close()
		defer tr.Close()

		if rebuildOutFile == "" {
			return fmt.Errorf("--out is required")
		}

		dst, err := bytesource.OpenFile(rebuildOutFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer dst.Close()

		rebuilt, err := tr.Rebuild(context.Background(), dst, rtree.Options{})
		if err != nil {
			return fmt.Errorf("failed to rebuild tree: %w", err)
		}
		defer rebuilt.Close()

		cmd.Printf("Rebuilt %s -> %s\n", treeFile, rebuildOutFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
	rebuildCmd.Flags().StringVar(&rebuildOutFile, "out", "", "Output tree file path (required)")
	_ = rebuildCmd.MarkFlagRequired("out")
}
