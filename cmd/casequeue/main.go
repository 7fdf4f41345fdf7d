// Package main implements the casequeue command, which serves the task
// lifecycle API, runs database migrations and sweeps overdue tasks.
package main

import (
	"fmt"
	"os"

	"github.com/phrazzld/casequeue/internal/config"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "casequeue",
		Short:         "Casework task queue and lifecycle service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "",
		"path to a config file (defaults to ./config.yaml when present)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newSweepCmd(opts))

	return cmd
}

// loadConfig reads configuration from the --config file, .env and the
// environment.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(o.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
