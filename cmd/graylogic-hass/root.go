package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/config"
)

// Default configuration file path. A missing file means env-only config.
const defaultConfigPath = "configs/config.yaml"

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
}

// newRootCommand creates the graylogic-hass command tree.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "graylogic-hass",
		Short: "Gray Logic link to a home-automation hub",
		Long: `Gray Logic link to a home-automation hub.

Mirrors hub entities, relays state changes, accepts MQTT service commands
and runs scheduled automations. Hub settings come from the config file and
HASS_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "",
		"config file (default $GRAYLOGIC_CONFIG or "+defaultConfigPath+")")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newStatesCommand(opts))
	cmd.AddCommand(newCallCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// configPath resolves the config file: flag, then GRAYLOGIC_CONFIG, then default.
func (o *rootOptions) configPath() string {
	if o.ConfigPath != "" {
		return o.ConfigPath
	}
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "graylogic-hass %s (commit %s, built %s)\n", version, commit, date)
			return err
		},
	}
}
