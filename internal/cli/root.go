// Package cli implements the webtics command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vincentbai/webtics/internal/config"
	"github.com/vincentbai/webtics/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "webtics",
	Short: "Minimal page analytics: beacon emitter and collector",
	Long: `webtics records page views and custom events as one-event-per-request
beacons and collects them into a local SQLite database.

Run "webtics serve" to start the collector and "webtics track" to send an
event to it.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = logging.NewWithWriter(os.Stderr, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
		logging.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command and prints any error.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError("%v", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $WEBTICS_CONFIG_DIR/config.yaml)")
}

func requireConfig() (*config.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}
