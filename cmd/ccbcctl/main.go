// Command ccbcctl is the CCBC Core admin tool: it mints operator tokens,
// manages the history database schema, prints actuator history and checks
// entity files before a brew day.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/ccbc-core/internal/infrastructure/config"
)

// Default configuration file path, shared with the service.
const defaultConfigPath = "configs/config.yaml"

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "ccbcctl",
		Short: "Administer a CCBC Core installation",
		Long: `ccbcctl works on the same config.yaml as the ccbc service.

Available subcommands:
  token     - Mint an operator token for API writes
  migrate   - Show, apply or roll back history database migrations
  history   - Print recent events for one actuator
  entities  - Check an entities file and list what it declares`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Config file (default: $CCBC_CONFIG or "+defaultConfigPath+")")

	load := func() (*config.Config, error) {
		path := configPath
		if path == "" {
			path = os.Getenv("CCBC_CONFIG")
		}
		if path == "" {
			path = defaultConfigPath
		}
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(newTokenCmd(load))
	root.AddCommand(newMigrateCmd(load))
	root.AddCommand(newHistoryCmd(load))
	root.AddCommand(newEntitiesCmd(load))
	return root
}

// configLoader loads config.yaml as selected by --config.
type configLoader func() (*config.Config, error)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
