package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssargent/rtbtree/pkg/bytesource"
	"github.com/ssargent/rtbtree/pkg/offsetenc"
	"github.com/ssargent/rtbtree/pkg/rtree"
)

var (
	maxEntries    int
	fillFactor    int
	smallLeaves   bool
	largePointers bool
	metadataKeys  []string
)

// createCmd represents the create command
var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new, empty tree file",
	Long: `Create a new tree file with no entries.

Example:
  rtbtreectl create --file=./index.rtbtree --unique --metadata=category,region`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureParentDir(); err != nil {
			return err
		}

		src, err := bytesource.OpenFile(treeFile)
		if err != nil {
			return fmt.Errorf("failed to create tree file: %w", err)
		}
		defer src.Close()

		width := offsetenc.Width31
		if largePointers {
			width = offsetenc.Width47
		}

		tr, err := rtree.Create(src, rtree.Options{
			Width:        width,
			SmallLeaves:  smallLeaves,
			Unique:       unique,
			MetadataKeys: metadataKeys,
			MaxEntries:   maxEntries,
			FillFactor:   fillFactor,
		})
		if err != nil {
			return fmt.Errorf("failed to create tree: %w", err)
		}
		defer tr.Close()

		cmd.Printf("Created tree %s\n", treeFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().BoolVar(&unique, "unique", false, "Enforce unique keys")
	createCmd.Flags().IntVar(&maxEntries, "max-entries", 0, "Max entries per node (0 = default)")
	createCmd.Flags().IntVar(&fillFactor, "fill-factor", 0, "Target fill factor percent (0 = default)")
	createCmd.Flags().BoolVar(&smallLeaves, "small-leaves", false, "Use the compact leaf layout")
	createCmd.Flags().BoolVar(&largePointers, "large-pointers", false, "Use 47-bit offsets for files over 2GB")
	createCmd.Flags().StringSliceVar(&metadataKeys, "metadata", nil, "Comma-separated metadata key names")
}
