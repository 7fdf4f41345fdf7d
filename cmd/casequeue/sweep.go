package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the deadline sweeper once and print what it did",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			log, err := setupAppLogger(cfg)
			if err != nil {
				return err
			}

			app, err := newApplication(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer app.cleanup()

			res, err := app.sweeper.RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}
