package cmd

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssargent/rtbtree/pkg/layout"
	"github.com/ssargent/rtbtree/pkg/rtkey"
)

var currentRecordPointer string

// updateCmd represents the update command
var updateCmd = &cobra.Command{
	Use:   "update <key>",
	Short: "Update a key's value in place",
	Long: `Replace one of a key's values, identified by its current
hex-encoded record pointer, with a new record pointer and metadata.

Example:
  rtbtreectl update mykey --current-record-pointer=ab12 --record-pointer=cd34`,
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

		currentRP, err := hex.DecodeString(currentRecordPointer)
		if err != nil {
			return fmt.Errorf("invalid --current-record-pointer: %w", err)
		}
		newRP, err := hex.DecodeString(recordPointer)
		if err != nil {
			return fmt.Errorf("invalid --record-pointer: %w", err)
		}

		var metadata rtkey.Tuple
		for _, m := range metadataVals {
			metadata = append(metadata, rtkey.String(m))
		}

		newValue := layout.Value{RecordPointer: newRP, Metadata: metadata}
		if err := tr.Update(context.Background(), key, newValue, currentRP); err != nil {
			return fmt.Errorf("failed to update entry: %w", err)
		}

		cmd.Printf("Updated %s -> %s\n", formatKey(key), recordPointer)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
	updateCmd.Flags().StringVar(&keyType, "type", "string", "Key type: string, number, bool, date")
	updateCmd.Flags().StringVar(&currentRecordPointer, "current-record-pointer", "", "Hex-encoded current record pointer (required)")
	updateCmd.Flags().StringVar(&recordPointer, "record-pointer", "", "Hex-encoded new record pointer (required)")
	updateCmd.Flags().StringSliceVar(&metadataVals, "metadata", nil, "Comma-separated metadata values, positional")
	_ = updateCmd.MarkFlagRequired("current-record-pointer")
	_ = updateCmd.MarkFlagRequired("record-pointer")
}
