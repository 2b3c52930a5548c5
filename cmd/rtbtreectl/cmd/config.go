package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssargent/rtbtree/pkg/config"
)

var configOutPath string

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "config-init",
	Short: "Bootstrap a config file with generated API keys",
	Long: `Write a new rtbtree config file with default tree settings and
freshly generated system/client API keys, the way pkg/config.BootstrapConfig
does it.

Example:
  rtbtreectl config-init --out=./rtbtree.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configOutPath
		if path == "" {
			path = config.GetDefaultConfigPath()
		}

		cfg, err := config.BootstrapConfig(path, "./data")
		if err != nil {
			return fmt.Errorf("failed to bootstrap config: %w", err)
		}

		cmd.Printf("Wrote config to %s\n", path)
		cmd.Printf("client_api_key: %s\n", cfg.Security.ClientAPIKey)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().StringVar(&configOutPath, "out", "", "Config file path (default: pkg/config.GetDefaultConfigPath())")
}
