// Package cli is the operational front end: a thin cobra shell over the
// pipeline store, the event log, and the orchestrator loop.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/buildforge/autopilot/internal/config"
)

var version = "dev"

// SetVersion overrides the reported version at build time.
func SetVersion(v string) {
	version = v
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "autopilot",
	Short: "autopilot — an autonomous build-pipeline orchestrator",
	Long: `autopilot drives a coding agent through a feature specification:
each requirement is explored, planned, implemented, and tested in its
own bounded phase chain, with pipeline state and an append-only event
log persisted under ~/.autopilot/.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ./autopilot.yaml, then ~/.autopilot/config.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(abortCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(specCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the effective configuration and fails on validation
// errors.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %v", errs[0])
	}
	return cfg, nil
}

// newLogger builds the CLI's logger. Commands print human output on
// stdout; diagnostics go through zap.
func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the autopilot version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("autopilot %s\n", version)
	},
}
