package cmd

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

// removeCmd represents the remove command
var removeCmd = &cobra.Command{
	Use:   "remove <key>",
	Short: "Remove a value from a key",
	Long: `Remove a single value from a key, identified by its hex-encoded
record pointer.

Example:
  rtbtreectl remove mykey --record-pointer=ab12`,
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

		if err := tr.Remove(context.Background(), key, rp); err != nil {
			return fmt.Errorf("failed to remove entry: %w", err)
		}

		cmd.Printf("Removed %s -> %s\n", formatKey(key), recordPointer)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
	removeCmd.Flags().StringVar(&keyType, "type", "string", "Key type: string, number, bool, date")
	removeCmd.Flags().StringVar(&recordPointer, "record-pointer", "", "Hex-encoded record pointer (required)")
	_ = removeCmd.MarkFlagRequired("record-pointer")
}
