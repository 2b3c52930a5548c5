package cmd

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssargent/rtbtree/pkg/layout"
	"github.com/ssargent/rtbtree/pkg/rtkey"
)

var (
	keyType       string
	recordPointer string
	metadataVals  []string
)

// addCmd represents the add command
var addCmd = &cobra.Command{
	Use:   "add <key>",
	Short: "Add a value to a key",
	Long: `Add a value to a key in the tree, carrying a hex-encoded record
pointer and optional positional metadata values.

Example:
  rtbtreectl add mykey --record-pointer=ab12 --metadata=fruit,red`,
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

		rp, err := hex.DecodeString(recordPointer)
		if err != nil {
			return fmt.Errorf("invalid --record-pointer: %w", err)
		}

		var metadata rtkey.Tuple
		for _, m := range metadataVals {
			metadata = append(metadata, rtkey.String(m))
		}

		value := layout.Value{RecordPointer: rp, Metadata: metadata}
		if err := tr.Add(context.Background(), key, value); err != nil {
			return fmt.Errorf("failed to add entry: %w", err)
		}

		cmd.Printf("Added %s -> %s\n", formatKey(key), recordPointer)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringVar(&keyType, "type", "string", "Key type: string, number, bool, date")
	addCmd.Flags().StringVar(&recordPointer, "record-pointer", "", "Hex-encoded record pointer (required)")
	addCmd.Flags().StringSliceVar(&metadataVals, "metadata", nil, "Comma-separated metadata values, positional")
	_ = addCmd.MarkFlagRequired("record-pointer")
}
