/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ssargent/rtbtree/pkg/bytesource"
	"github.com/ssargent/rtbtree/pkg/rtree"
)

var (
	treeFile string
	unique   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rtbtreectl",
	Short: "rtbtree - an embeddable range B+tree index",
	Long: `rtbtreectl drives a single rtbtree file directly: create it, add
and remove entries, find and search keys, rebuild it after churn, and
report tree statistics. It is a debugging and scripting tool over
pkg/rtree, not a server — run "rtbtreectl serve" for the read-only HTTP
inspection API.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&treeFile, "file", "f", "./index.rtbtree", "Tree file path")
}

// openTree opens an existing tree file at treeFile.
func openTree() (*rtree.Tree, *bytesource.FileSource, error) {
	src, err := bytesource.OpenFile(treeFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open tree file: %w", err)
	}
	tr, err := rtree.Open(src, rtree.Options{})
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("failed to open tree: %w", err)
	}
	return tr, src, nil
}

// ensureParentDir creates treeFile's parent directory if it doesn't exist.
func ensureParentDir() error {
	dir := filepath.Dir(treeFile)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
