// Command touchbridged runs the direct-touch passthrough engine against a
// host adapter and inspects its transition history.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"touchbridge/internal/config"
)

var version = "dev"

var cfgFile string

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "touchbridged",
		Short:         "Direct-touch passthrough daemon",
		Long:          `touchbridged decides when touches bypass the screen reader and go straight to the foreground application.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is config.toml in the platform config dir)")

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewConfigCmd())
	rootCmd.AddCommand(NewHistoryCmd())

	return rootCmd
}

// configPath resolves --config, then a config file in the usual places.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if found := config.FindConfigFile(); found != "" {
		return found
	}
	return config.ConfigPath()
}

func loadConfig() (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(configPath())
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", loader.Path(), err)
	}
	return loader, cfg, nil
}
