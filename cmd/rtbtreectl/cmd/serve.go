package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssargent/rtbtree/pkg/api"
	"github.com/ssargent/rtbtree/pkg/bytesource"
	"github.com/ssargent/rtbtree/pkg/config"
	"github.com/ssargent/rtbtree/pkg/rtree"
)

var (
	servePort     int
	serveAPIKey   string
	serveConfig   string
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only inspection API",
	Long: `Start the rtbtree HTTP inspection API over the tree file, serving
find/range/search/stats endpoints plus Prometheus metrics and swagger
docs. See pkg/api for the full route list.

Example:
  rtbtreectl serve --port=8080 --api-key=mysecretkey`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := servePort
		apiKey := serveAPIKey

		if serveConfig != "" {
			cfg, err := config.LoadConfig(serveConfig)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if !cmd.Flags().Changed("port") {
				port = cfg.Port
			}
			if !cmd.Flags().Changed("api-key") {
				apiKey = cfg.Security.ClientAPIKey
			}
		}

		src, err := bytesource.OpenFile(treeFile)
		if err != nil {
			return fmt.Errorf("failed to open tree file: %w", err)
		}

		tr, err := rtree.Open(src, rtree.Options{})
		if err != nil {
			src.Close()
			return fmt.Errorf("failed to open tree: %w", err)
		}
		defer tr.Close()

		return api.StartServer(tr, api.ServerConfig{
			Port:   port,
			APIKey: apiKey,
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveAPIKey, "api-key", "", "API key for authentication (empty disables auth)")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Optional config file (pkg/config) to source port/api-key defaults from")
}
